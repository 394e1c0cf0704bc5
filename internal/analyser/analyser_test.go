package analyser

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brensch/jsonlpack/internal/catalog"
)

func TestAnalyse(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.parquet")
	now := time.Now()
	err := catalog.Write(path, []catalog.Entry{
		catalog.NewEntry("a", "/in/a", 10, 1, []string{"id", "name"}, "a/a.json", "a/a.tar.gz", 100, now),
		catalog.NewEntry("a/b", "/in/a/b", 30, 0, []string{"id"}, "a/b/b.json", "a/b/b.tar.gz", 300, now),
		catalog.NewEntry("c", "/in/c", 0, 0, nil, "c/c.json", "c/c.tar.gz", 20, now),
	})
	if err != nil {
		t.Fatal(err)
	}

	conn, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r, err := Analyse(ctx, conn, path, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	want := Totals{Folders: 3, Records: 40, Malformed: 1, BundleBytes: 420}
	if r.Totals != want {
		t.Errorf("totals = %+v, want %+v", r.Totals, want)
	}
	if len(r.TopByRows) != 2 || r.TopByRows[0].RelPath != "a/b" || r.TopByRows[1].RelPath != "a" {
		t.Errorf("top = %+v", r.TopByRows)
	}
	if len(r.Fields) != 2 || r.Fields[0] != (FieldStat{Field: "id", Folders: 2}) || r.Fields[1] != (FieldStat{Field: "name", Folders: 1}) {
		t.Errorf("fields = %+v", r.Fields)
	}

	var buf bytes.Buffer
	Print(&buf, r)
	if !strings.Contains(buf.String(), "a/b") || !strings.Contains(buf.String(), "2 folders") {
		t.Errorf("output:\n%s", buf.String())
	}
}
