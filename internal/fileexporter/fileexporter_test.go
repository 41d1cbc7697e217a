package fileexporter

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JSGette/spanbatch/internal/spanbatch"
)

func fakeRecord(name string) spanbatch.Recordable {
	return tracetest.SpanStub{Name: name}.Snapshot()
}

func TestExporterWritesOneJSONLinePerBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	e, err := New(path, "test-service")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(context.Background())

	batch := []spanbatch.Recordable{fakeRecord("a"), fakeRecord("b")}
	if err := e.ExportSpans(context.Background(), batch); err != nil {
		t.Fatalf("ExportSpans: %v", err)
	}
	if err := e.ExportSpans(context.Background(), batch); err != nil {
		t.Fatalf("second ExportSpans: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening output file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		var doc otlpTrace
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			t.Fatalf("unmarshaling line %d: %v", lines, err)
		}
		if len(doc.ResourceSpans) != 1 || len(doc.ResourceSpans[0].ScopeSpans) != 1 {
			t.Fatalf("line %d: unexpected OTLP shape: %+v", lines, doc)
		}
		if got := len(doc.ResourceSpans[0].ScopeSpans[0].Spans); got != 2 {
			t.Fatalf("line %d: span count: got %d, want 2", lines, got)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("line count: got %d, want 2", lines)
	}
}

func TestExporterRejectsExportAfterShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	e, err := New(path, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := e.ExportSpans(context.Background(), []spanbatch.Recordable{fakeRecord("a")}); err == nil {
		t.Fatal("expected ExportSpans to fail after Shutdown")
	}
}

func TestExporterShutdownIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	e, err := New(path, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
