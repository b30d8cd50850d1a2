// Package commandlog implements the append-only, line-based command log
// (".ninja_log" in the original tool) described in spec.md §4.2: one entry
// per output path recording the last command hash and timings, with
// recompaction when the file grows too large relative to its unique
// entries.
package commandlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	fileSignature        = "# ninja log v%d\n"
	currentVersion       = 5
	oldestSupportedVersion = 4
)

// Entry is one command-log record: the last known command hash and timing
// information for a single output path.
type Entry struct {
	Output       string
	CommandHash  uint64
	StartMS      int64
	EndMS        int64
	RestatMtime  int64 // only meaningful for restat rules; 0 otherwise
}

// Log is an open command log: entries loaded from disk, plus (once
// OpenForWrite is called) an append-only file handle.
type Log struct {
	path    string
	entries map[string]*Entry
	file    *os.File
	writer  *bufio.Writer

	needsRecompaction bool
}

// New creates an empty, unopened log.
func New() *Log {
	return &Log{entries: make(map[string]*Entry)}
}

// LookupByOutput returns the most recent entry for path, or nil.
func (l *Log) LookupByOutput(path string) *Entry {
	return l.entries[path]
}

// Load reads path sequentially; if ok is false and err is nil, the file
// did not exist yet or its version header is outside the supported range,
// and the returned log is empty. Duplicate output_path lines are resolved
// last-wins, per spec.md §4.2.
func Load(path string) (log *Log, ok bool, err error) {
	l := New()
	l.path = path

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	total, unique := 0, 0
	version := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<24)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if n, scanErr := fmt.Sscanf(line, fileSignature[:len(fileSignature)-1], &version); scanErr == nil && n == 1 {
				if version < oldestSupportedVersion || version > currentVersion {
					// Unreadable version: behave as if the log did not
					// exist, forcing a full rebuild rather than erroring.
					return New(), false, nil
				}
				continue
			}
			// No header: tolerate (pre-v4 logs with no recognizable
			// signature) by falling through and trying to parse this line
			// as a normal record.
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue // tolerate a truncated trailing line
		}

		startMS, _ := strconv.ParseInt(fields[0], 10, 64)
		endMS, _ := strconv.ParseInt(fields[1], 10, 64)
		restat, _ := strconv.ParseInt(fields[2], 10, 64)
		output := fields[3]

		var hash uint64
		if len(fields) >= 5 && fields[4] != "" {
			hash, _ = parseHashHex(fields[4])
		}

		total++
		if _, exists := l.entries[output]; !exists {
			unique++
		}
		l.entries[output] = &Entry{
			Output:      output,
			CommandHash: hash,
			StartMS:     startMS,
			EndMS:       endMS,
			RestatMtime: restat,
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, false, scanErr
	}

	l.needsRecompaction = version < currentVersion || (total > 100 && total > unique*3)
	return l, true, nil
}

func parseHashHex(s string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hash digit %q", c)
		}
		v = v<<4 | d
	}
	return v, nil
}

// NeedsRecompaction reports whether Load decided the file should be
// rewritten (version behind, or total entries > 100 and more than 3x the
// unique count).
func (l *Log) NeedsRecompaction() bool { return l.needsRecompaction }

// OpenForWrite prepares path for appending, recompacting first if needed.
// The file itself isn't opened until the first RecordCommand call.
func (l *Log) OpenForWrite(path string) error {
	l.path = path
	if l.needsRecompaction {
		if err := l.Recompact(path); err != nil {
			return err
		}
		l.needsRecompaction = false
	}
	return nil
}

func (l *Log) openFileIfNeeded() error {
	if l.file != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	if info.Size() == 0 {
		fmt.Fprintf(l.writer, fileSignature, currentVersion)
	}
	return nil
}

// RecordCommand writes/updates the entry for output and appends a line to
// the open file (line-buffered, flushed immediately so a crash leaves the
// log consistent with "as if the command never ran").
func (l *Log) RecordCommand(output string, commandHash uint64, startMS, endMS, restatMtime int64) error {
	e := &Entry{Output: output, CommandHash: commandHash, StartMS: startMS, EndMS: endMS, RestatMtime: restatMtime}
	l.entries[output] = e

	if err := l.openFileIfNeeded(); err != nil {
		return err
	}
	if err := writeEntry(l.writer, e); err != nil {
		return err
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

func writeEntry(w *bufio.Writer, e *Entry) error {
	_, err := fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%016x\n", e.StartMS, e.EndMS, e.RestatMtime, e.Output, e.CommandHash)
	return err
}

// Recompact rewrites path containing only the latest entry per output,
// then atomically replaces the original (write path+".recompact", rename).
func (l *Log) Recompact(path string) error {
	tmp := path + ".recompact"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, fileSignature, currentVersion)
	for _, e := range l.entries {
		if err := writeEntry(w, e); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Close flushes and closes the underlying file, if open.
func (l *Log) Close() error {
	if l.writer != nil {
		if err := l.writer.Flush(); err != nil {
			return err
		}
	}
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.writer = nil
		return err
	}
	return nil
}

// Entries returns the full in-memory map (output -> latest entry), for
// tests.
func (l *Log) Entries() map[string]*Entry { return l.entries }
