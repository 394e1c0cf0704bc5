package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Event types recorded per folder.
const (
	EventFolderStart  = "folder_start"
	EventExtractError = "extract_error"
	EventSummarizeEnd = "summarize_end"
	EventBundleEnd    = "bundle_end"
	EventCleanupEnd   = "cleanup_end"
	EventFolderEnd    = "folder_end"
	EventError        = "error"
	EventSkip         = "skip"
)

// EventLogTable is the name of the event log table.
const EventLogTable = "jsonlpack_event_log"

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS jsonlpack_event_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS jsonlpack_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('jsonlpack_event_id_seq'),
    run_id          VARCHAR NOT NULL,
    root_dir        VARCHAR NOT NULL,
    rel_path        VARCHAR NOT NULL,      -- source directory relative to root_dir
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    output_path     VARCHAR,               -- archive, summary or bundle path depending on event
    message         VARCHAR,
    record_count    BIGINT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_jsonlpack_event_log_folder ON jsonlpack_event_log (root_dir, rel_path);
CREATE INDEX IF NOT EXISTS idx_jsonlpack_event_log_event_time ON jsonlpack_event_log (event, event_timestamp);
`

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// FolderEvent is one row of the event log.
type FolderEvent struct {
	RunID       string
	RootDir     string
	RelPath     string
	Event       string
	OutputPath  string
	Message     string
	RecordCount *int64
	Duration    *time.Duration
}

// LogFolderEvent inserts a new event record into the log.
func LogFolderEvent(ctx context.Context, db *sql.DB, ev FolderEvent) error {
	query := `
        INSERT INTO jsonlpack_event_log (run_id, root_dir, rel_path, event, event_timestamp, output_path, message, record_count, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs, records sql.NullInt64
	if ev.Duration != nil {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}
	if ev.RecordCount != nil {
		records = sql.NullInt64{Int64: *ev.RecordCount, Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		ev.RunID,
		ev.RootDir,
		ev.RelPath,
		ev.Event,
		time.Now().UTC(),
		sql.NullString{String: ev.OutputPath, Valid: ev.OutputPath != ""},
		sql.NullString{String: ev.Message, Valid: ev.Message != ""},
		records,
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", ev.Event, ev.RelPath, err)
	}
	return nil
}

// GetLatestFolderEvent retrieves the most recent event for a folder.
func GetLatestFolderEvent(ctx context.Context, db *sql.DB, rootDir, relPath string) (event string, timestamp time.Time, found bool, err error) {
	query := `
        SELECT event, event_timestamp
        FROM jsonlpack_event_log
        WHERE root_dir = ? AND rel_path = ?
        ORDER BY log_id DESC
        LIMIT 1;
    `
	err = db.QueryRowContext(ctx, query, rootDir, relPath).Scan(&event, &timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("failed query latest event for '%s': %w", relPath, err)
	}
	return event, timestamp, true, nil
}

// GetCompletedFolders returns the rel paths under rootDir whose most recent
// folder_start was followed by a folder_end.
func GetCompletedFolders(ctx context.Context, db *sql.DB, rootDir string, logger *slog.Logger) (map[string]bool, error) {
	logger.Debug("Querying database for completed folders...", slog.String("root", rootDir))
	completed := make(map[string]bool)

	query := `
        WITH Latest AS (
            SELECT rel_path, event,
                ROW_NUMBER() OVER (PARTITION BY rel_path ORDER BY log_id DESC) AS rn
            FROM jsonlpack_event_log
            WHERE root_dir = ? AND event IN (?, ?)
        )
        SELECT rel_path FROM Latest WHERE rn = 1 AND event = ?;
    `
	rows, err := db.QueryContext(ctx, query, rootDir, EventFolderStart, EventFolderEnd, EventFolderEnd)
	if err != nil {
		return nil, fmt.Errorf("query completed folders: %w", err)
	}
	defer rows.Close()

	var scanErrors error
	for rows.Next() {
		var relPath string
		if err := rows.Scan(&relPath); err != nil {
			logger.Error("Failed to scan completed folder", "error", err)
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan completed folder: %w", err))
			continue
		}
		completed[relPath] = true
	}
	if err := rows.Err(); err != nil {
		scanErrors = errors.Join(scanErrors, fmt.Errorf("iterate completed folders: %w", err))
		return completed, scanErrors
	}

	logger.Info("Found completed folders in DB.", slog.Int("count", len(completed)))
	return completed, scanErrors
}

// EventLog records events for a single run.
type EventLog struct {
	DB      *sql.DB
	RunID   string
	RootDir string
	Logger  *slog.Logger
}

// NewEventLog starts a run with a fresh run ID.
func NewEventLog(db *sql.DB, rootDir string, logger *slog.Logger) *EventLog {
	return &EventLog{DB: db, RunID: uuid.NewString(), RootDir: rootDir, Logger: logger}
}

// Record stamps ev with the run ID and root and inserts it.
func (l *EventLog) Record(ctx context.Context, ev FolderEvent) error {
	ev.RunID = l.RunID
	ev.RootDir = l.RootDir
	return LogFolderEvent(ctx, l.DB, ev)
}

// Completed returns the completed folders for this log's root.
func (l *EventLog) Completed(ctx context.Context) (map[string]bool, error) {
	return GetCompletedFolders(ctx, l.DB, l.RootDir, l.Logger)
}

// RunInfo summarizes one run.
type RunInfo struct {
	RunID    string
	RootDir  string
	Started  time.Time
	Finished time.Time
	Folders  int64
	Errors   int64
	Records  int64
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]RunInfo, error) {
	query := `
        SELECT run_id, ANY_VALUE(root_dir), MIN(event_timestamp), MAX(event_timestamp),
            COUNT(*) FILTER (WHERE event = $1),
            COUNT(*) FILTER (WHERE event IN ($2, $3)),
            CAST(COALESCE(SUM(record_count) FILTER (WHERE event = $4), 0) AS BIGINT)
        FROM jsonlpack_event_log
        GROUP BY run_id
        ORDER BY MIN(log_id) DESC
        LIMIT $5;
    `
	rows, err := db.QueryContext(ctx, query, EventFolderStart, EventError, EventExtractError, EventSummarizeEnd, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RunID, &r.RootDir, &r.Started, &r.Finished, &r.Folders, &r.Errors, &r.Records); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DisplayFolderHistory writes the event log, newest first.
func DisplayFolderHistory(ctx context.Context, db *sql.DB, w io.Writer, runFilter, eventFilter string, limit int) error {
	query := `
        SELECT run_id, rel_path, event, event_timestamp, message, record_count, duration_ms, output_path
        FROM jsonlpack_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if runFilter != "" {
		conditions = append(conditions, fmt.Sprintf("run_id LIKE $%d", argCounter))
		args = append(args, runFilter+"%")
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-8s | %-40s | %-14s | %-25s | %-8s | %-10s | %s\n", "Run", "Folder", "Event", "Timestamp (UTC)", "Records", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w \n Query: %s \n Args: %v", err, query, args)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var runID, relPath, event string
		var timestamp time.Time
		var message, outputPath sql.NullString
		var records, durationMs sql.NullInt64
		if err := rows.Scan(&runID, &relPath, &event, &timestamp, &message, &records, &durationMs, &outputPath); err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}

		recordStr, durationStr := "", ""
		if records.Valid {
			recordStr = fmt.Sprintf("%d", records.Int64)
		}
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		details := message.String
		if outputPath.Valid && outputPath.String != "" {
			details += fmt.Sprintf(" (Output: %s)", outputPath.String)
		}
		if len(runID) > 8 {
			runID = runID[:8]
		}

		fmt.Fprintf(w, "%-8s | %-40s | %-14s | %-25s | %-8s | %-10s | %s\n",
			runID, relPath, event, timestamp.Format(time.RFC3339), recordStr, durationStr, details)
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}
