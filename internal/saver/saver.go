package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb" // Register DuckDB driver
)

// SaveTablesToParquet copies every table in the database to
// <outputDir>/<table>.parquet and returns the written paths.
func SaveTablesToParquet(ctx context.Context, db *sql.DB, outputDir string, logger *slog.Logger) ([]string, error) {
	logger.Info("Starting table save process...", slog.String("output_dir", outputDir))

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", outputDir, err)
	}

	rows, err := db.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	rows.Close()

	if len(tableNames) == 0 {
		logger.Info("No tables found in the database to save.")
		return nil, nil
	}
	logger.Info("Found tables to save.", slog.Int("count", len(tableNames)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var saveErrors []error
	var written []string

	for _, tableName := range tableNames {
		if ctx.Err() != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", ctx.Err())
			break
		}
		wg.Add(1)
		go func(tn string) {
			defer wg.Done()
			l := logger.With(slog.String("table", tn))

			safeFilename := strings.ReplaceAll(tn, `"`, "")
			safeFilename = strings.ReplaceAll(safeFilename, "/", "_")
			outputFilePath := filepath.Join(outputDir, safeFilename+".parquet")
			duckdbFilePath := filepath.ToSlash(outputFilePath)

			quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(tn, `"`, `""`))
			copySQL := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET);`,
				quotedTableName,
				strings.ReplaceAll(duckdbFilePath, "'", "''"),
			)

			if _, err := db.ExecContext(ctx, copySQL); err != nil {
				l.Error("Failed to save table to Parquet.", "error", err)
				mu.Lock()
				saveErrors = append(saveErrors, fmt.Errorf("save %s: %w", tn, err))
				mu.Unlock()
				return
			}
			l.Info("Saved table to Parquet.", slog.String("output_path", outputFilePath))
			mu.Lock()
			written = append(written, outputFilePath)
			mu.Unlock()
		}(tableName)
	}
	wg.Wait()

	if err := errors.Join(saveErrors...); err != nil {
		return written, err
	}
	logger.Info("Table save process finished.", slog.Int("tables", len(written)))
	return written, nil
}
