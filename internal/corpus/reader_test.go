package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/store"
)

func TestDetectFormat(t *testing.T) {
	cases := map[string]FileFormat{
		"corpus.csv":     FormatCSV,
		"corpus.json":    FormatJSON,
		"corpus.jsonl":   FormatJSON,
		"corpus.parquet": FormatParquet,
		"corpus.txt":     FormatUnknown,
	}
	for name, want := range cases {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", name, got, want)
		}
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestFromFileCSV(t *testing.T) {
	path := writeTempFile(t, "corpus.csv",
		"username,query\n"+
			"alice,SELECT first_name FROM customers\n"+
			"bob,SELECT COUNT(*) FROM customers\n"+
			",SELECT 1\n")

	samples, err := FromFile(path, zap.NewNop())
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Principal != "alice" || samples[1].Principal != "bob" {
		t.Errorf("unexpected principals: %+v", samples)
	}
}

func TestFromFileJSON(t *testing.T) {
	path := writeTempFile(t, "corpus.jsonl",
		`{"username":"alice","query":"SELECT email FROM customers"}`+"\n"+
			`{"username":"alice","query":"SELECT last_name FROM customers"}`+"\n")

	samples, err := FromFile(path, zap.NewNop())
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[1].Query != "SELECT last_name FROM customers" {
		t.Errorf("unexpected query: %q", samples[1].Query)
	}
}

func TestFromFileUnsupported(t *testing.T) {
	path := writeTempFile(t, "corpus.txt", "alice SELECT 1\n")
	if _, err := FromFile(path, zap.NewNop()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type fakeAuditReader struct {
	records []store.AuditRecord
}

func (f *fakeAuditReader) ListAuditRecords(ctx context.Context, limit int) ([]store.AuditRecord, error) {
	return f.records, nil
}

func TestFromStoreFiltersUnexecuted(t *testing.T) {
	reader := &fakeAuditReader{records: []store.AuditRecord{
		{Username: "alice", QueryText: "SELECT first_name FROM customers", Executed: true},
		{Username: "mallory", QueryText: "DROP TABLE customers", Executed: false},
		{Username: "bob", QueryText: "SELECT COUNT(*) FROM customers", Executed: true},
	}}

	samples, err := FromStore(context.Background(), reader, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("FromStore() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	for _, s := range samples {
		if s.Principal == "mallory" {
			t.Error("unexecuted query should not enter the corpus")
		}
	}
}
