package asrun

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/veles-productions/playout-core/internal/model"
)

func TestWriteAppendsOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	if err := l.Write(model.AsRunEntry{Event: model.AsRunLoad, TemplateID: "t1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Write(model.AsRunEntry{Event: model.AsRunTake}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries := readEntries(t, dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(entries))
	}
	if entries[0].Event != model.AsRunLoad {
		t.Errorf("entry 0 event = %s, want load", entries[0].Event)
	}
}

func TestWriteChainsHashes(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Write(model.AsRunEntry{Event: model.AsRunLoad})
	l.Write(model.AsRunEntry{Event: model.AsRunTake})

	entries := readRecords(t, dir)
	if entries[0].PrevHash != "" {
		t.Errorf("first record should have empty prevHash, got %q", entries[0].PrevHash)
	}
	if entries[0].Hash == "" {
		t.Error("first record should have a non-empty hash")
	}
	if entries[1].PrevHash != entries[0].Hash {
		t.Errorf("second record's prevHash %q should equal first record's hash %q", entries[1].PrevHash, entries[0].Hash)
	}
}

func TestWriteStampsTimestamp(t *testing.T) {
	dir := t.TempDir()
	l, _ := New(dir)
	defer l.Close()

	l.Write(model.AsRunEntry{Event: model.AsRunClear})

	entries := readEntries(t, dir)
	if entries[0].Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp to be stamped on write")
	}
}

func TestFilenameFollowsCalendarDayPattern(t *testing.T) {
	dir := t.TempDir()
	l, _ := New(dir)
	defer l.Close()

	l.Write(model.AsRunEntry{Event: model.AsRunLoad})

	matches, _ := filepath.Glob(filepath.Join(dir, "as-run-*.jsonl"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one as-run-*.jsonl file, got %v", matches)
	}
}

func readEntries(t *testing.T, dir string) []model.AsRunEntry {
	t.Helper()
	var out []model.AsRunEntry
	for _, r := range readRecords(t, dir) {
		out = append(out, r.AsRunEntry)
	}
	return out
}

func readRecords(t *testing.T, dir string) []record {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "as-run-*.jsonl"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("no as-run file found: %v", err)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		out = append(out, r)
	}
	return out
}
