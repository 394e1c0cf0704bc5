package saver

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/brensch/jsonlpack/internal/db"
)

func TestSaveTablesToParquet(t *testing.T) {
	ctx := context.Background()
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := db.InitializeSchema(conn); err != nil {
		t.Fatal(err)
	}
	events := db.NewEventLog(conn, "/root", slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, e := range []string{db.EventFolderStart, db.EventFolderEnd} {
		if err := events.Record(ctx, db.FolderEvent{RelPath: "a", Event: e}); err != nil {
			t.Fatal(err)
		}
	}

	out := filepath.Join(t.TempDir(), "export")
	written, err := SaveTablesToParquet(ctx, conn, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("SaveTablesToParquet: %v", err)
	}
	want := filepath.Join(out, db.EventLogTable+".parquet")
	if len(written) != 1 || written[0] != want {
		t.Fatalf("written = %v, want [%s]", written, want)
	}

	var n int
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", filepath.ToSlash(want))).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("parquet rows = %d, want 2", n)
	}
}
