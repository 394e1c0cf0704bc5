package analyser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	_ "github.com/marcboeker/go-duckdb"
)

// CatalogView is the view name the catalog parquet is exposed under.
const CatalogView = "folder_catalog"

// Totals aggregates every folder in the catalog.
type Totals struct {
	Folders     int64
	Records     int64
	Malformed   int64
	BundleBytes int64
}

// FolderStat is one row of the largest-folders ranking.
type FolderStat struct {
	RelPath     string
	Records     int64
	FieldCount  int64
	BundleBytes int64
}

// FieldStat counts how many folders carry a field.
type FieldStat struct {
	Field   string
	Folders int64
}

// Report is the outcome of an analysis run.
type Report struct {
	Totals    Totals
	TopByRows []FolderStat
	Fields    []FieldStat
}

// Analyse queries the catalog parquet at catalogPath through DuckDB.
// top limits both rankings.
func Analyse(ctx context.Context, db *sql.DB, catalogPath string, top int, logger *slog.Logger) (*Report, error) {
	logger.Info("Starting catalog analysis.", slog.String("catalog", catalogPath))

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection from pool: %w", err)
	}
	defer conn.Close()

	duckdbPath := strings.ReplaceAll(strings.ReplaceAll(catalogPath, `\`, `/`), "'", "''")
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM read_parquet('%s');`, CatalogView, duckdbPath)
	if _, err := conn.ExecContext(ctx, viewSQL); err != nil {
		return nil, fmt.Errorf("create view %s: %w\nSQL:\n%s", CatalogView, err, viewSQL)
	}

	r := &Report{}
	totalsSQL := fmt.Sprintf(`
    SELECT COUNT(*),
        CAST(COALESCE(SUM(record_count), 0) AS BIGINT),
        CAST(COALESCE(SUM(malformed_count), 0) AS BIGINT),
        CAST(COALESCE(SUM(bundle_bytes), 0) AS BIGINT)
    FROM %s;`, CatalogView)
	if err := conn.QueryRowContext(ctx, totalsSQL).Scan(&r.Totals.Folders, &r.Totals.Records, &r.Totals.Malformed, &r.Totals.BundleBytes); err != nil {
		return nil, fmt.Errorf("aggregate totals: %w", err)
	}

	var analysisErrors error

	topSQL := fmt.Sprintf(`
    SELECT rel_path, record_count, field_count, bundle_bytes
    FROM %s
    ORDER BY record_count DESC, rel_path
    LIMIT $1;`, CatalogView)
	rows, err := conn.QueryContext(ctx, topSQL, top)
	if err != nil {
		return nil, fmt.Errorf("query largest folders: %w", err)
	}
	for rows.Next() {
		var s FolderStat
		if err := rows.Scan(&s.RelPath, &s.Records, &s.FieldCount, &s.BundleBytes); err != nil {
			analysisErrors = errors.Join(analysisErrors, fmt.Errorf("scan folder row: %w", err))
			continue
		}
		r.TopByRows = append(r.TopByRows, s)
	}
	if err := rows.Err(); err != nil {
		analysisErrors = errors.Join(analysisErrors, fmt.Errorf("iterate folder rows: %w", err))
	}
	rows.Close()

	fieldsSQL := fmt.Sprintf(`
    SELECT field, COUNT(*) AS folders
    FROM (SELECT unnest(string_split(fields, ',')) AS field FROM %s WHERE fields <> '')
    GROUP BY field
    ORDER BY folders DESC, field
    LIMIT $1;`, CatalogView)
	rows, err = conn.QueryContext(ctx, fieldsSQL, top)
	if err != nil {
		return nil, errors.Join(analysisErrors, fmt.Errorf("query common fields: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var s FieldStat
		if err := rows.Scan(&s.Field, &s.Folders); err != nil {
			analysisErrors = errors.Join(analysisErrors, fmt.Errorf("scan field row: %w", err))
			continue
		}
		r.Fields = append(r.Fields, s)
	}
	if err := rows.Err(); err != nil {
		analysisErrors = errors.Join(analysisErrors, fmt.Errorf("iterate field rows: %w", err))
	}

	logger.Info("Catalog analysis finished.", slog.Int64("folders", r.Totals.Folders))
	return r, analysisErrors
}

// Print writes the report as plain tables.
func Print(w io.Writer, r *Report) {
	fmt.Fprintln(w, "--- Catalog Totals ---")
	fmt.Fprintf(w, "Folders:   %s\n", humanize.Comma(r.Totals.Folders))
	fmt.Fprintf(w, "Records:   %s\n", humanize.Comma(r.Totals.Records))
	fmt.Fprintf(w, "Malformed: %s\n", humanize.Comma(r.Totals.Malformed))
	fmt.Fprintf(w, "Bundled:   %s\n", humanize.Bytes(uint64(r.Totals.BundleBytes)))

	fmt.Fprintln(w, "\n--- Largest Folders ---")
	fmt.Fprintf(w, "%-40s | %12s | %6s | %10s\n", "Folder", "Records", "Fields", "Bundle")
	fmt.Fprintln(w, strings.Repeat("-", 78))
	for _, s := range r.TopByRows {
		fmt.Fprintf(w, "%-40s | %12s | %6d | %10s\n", s.RelPath, humanize.Comma(s.Records), s.FieldCount, humanize.Bytes(uint64(s.BundleBytes)))
	}

	fmt.Fprintln(w, "\n--- Common Fields ---")
	if len(r.Fields) == 0 {
		fmt.Fprintln(w, "No fields recorded.")
		return
	}
	for _, s := range r.Fields {
		fmt.Fprintf(w, "%-40s | %d folders\n", s.Field, s.Folders)
	}
}
