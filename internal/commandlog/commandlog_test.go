package commandlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_log")

	l := New()
	if err := l.OpenForWrite(path); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	if err := l.RecordCommand("out.o", 0xdeadbeef, 10, 20, 0); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	loaded, ok, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected log to load")
	}
	entry := loaded.LookupByOutput("out.o")
	if entry == nil {
		t.Fatal("expected entry for out.o")
	}
	if entry.CommandHash != 0xdeadbeef || entry.StartMS != 10 || entry.EndMS != 20 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, ok, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing file")
	}
}

func TestLastWriteWinsOnDuplicateOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_log")

	l := New()
	if err := l.OpenForWrite(path); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	l.RecordCommand("out.o", 1, 0, 1, 0)
	l.RecordCommand("out.o", 2, 2, 3, 0)
	l.Close()

	loaded, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry := loaded.LookupByOutput("out.o")
	if entry.CommandHash != 2 {
		t.Fatalf("expected last-write-wins hash 2, got %d", entry.CommandHash)
	}
}

func TestRecompactionTriggersAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_log")

	l := New()
	if err := l.OpenForWrite(path); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	// Same output rewritten many times: total >> unique.
	for i := 0; i < 150; i++ {
		l.RecordCommand("out.o", uint64(i), int64(i), int64(i+1), 0)
	}
	l.Close()

	loaded, ok, err := Load(path)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !loaded.NeedsRecompaction() {
		t.Fatal("expected recompaction to be flagged (150 entries, 1 unique)")
	}

	if err := loaded.Recompact(path); err != nil {
		t.Fatalf("Recompact: %v", err)
	}

	reloaded, ok, err := Load(path)
	if err != nil || !ok {
		t.Fatalf("reload after recompact: ok=%v err=%v", ok, err)
	}
	if reloaded.NeedsRecompaction() {
		t.Fatal("freshly recompacted log should not need recompaction again")
	}
	if len(reloaded.Entries()) != 1 {
		t.Fatalf("expected exactly 1 entry after recompaction, got %d", len(reloaded.Entries()))
	}
	entry := reloaded.LookupByOutput("out.o")
	if entry.CommandHash != 149 {
		t.Fatalf("expected the latest hash 149 to survive recompaction, got %d", entry.CommandHash)
	}
}

func TestTruncatedTrailingLineIsTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln_log")

	l := New()
	l.OpenForWrite(path)
	l.RecordCommand("a", 1, 0, 1, 0)
	l.Close()

	// Append a short, malformed trailing line directly.
	appendRaw(t, path, "not\tenough\tfields\n")

	loaded, ok, err := Load(path)
	if err != nil {
		t.Fatalf("expected truncated trailing line to be tolerated, got error: %v", err)
	}
	if !ok {
		t.Fatal("expected load to succeed")
	}
	if loaded.LookupByOutput("a") == nil {
		t.Fatal("expected the well-formed entry to still be present")
	}
}

func appendRaw(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write: %v", err)
	}
}
