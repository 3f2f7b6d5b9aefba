package calllog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSink_WriteThenClose(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir, "SS1", "CA1")

	if err := sink.Write("start", map[string]any{"tenantId": "T1"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := sink.Write("stop", nil); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "SS1.ndjson"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec Record
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Event != "start" || rec.StreamID != "SS1" || rec.CallID != "CA1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestSink_WriteAfterCloseIsNoop(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir, "SS2", "CA2")
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Write("late", nil); err != nil {
		t.Fatalf("write after close should not error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "SS2.ndjson")); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be created, stat err: %v", err)
	}
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir, "SS3", "CA3")
	_ = sink.Write("start", nil)
	if err := sink.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
