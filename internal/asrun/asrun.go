// Package asrun implements the As-Run Log (spec.md §4.8, §6.3): an
// append-only, newline-framed JSON event log used for broadcast
// compliance. One file per calendar day; rotation is triggered lazily
// by the next write, not by a timer. Each record is hash-chained to the
// previous one so a compliance reviewer can detect tampering or gaps.
package asrun

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
)

var log = logging.L("asrun")

const dateLayout = "2006-01-02"

// record is the on-disk shape: the entry itself plus the hash chain.
type record struct {
	model.AsRunEntry
	PrevHash string `json:"prevHash"`
	Hash     string `json:"hash"`
}

// Log is the single writer for the As-Run Log, exclusively owning its
// current file handle (spec.md §5 shared-resource policy).
type Log struct {
	mu       sync.Mutex
	dir      string
	day      string
	file     *os.File
	lastHash string
}

// New creates a Log rooted at dir (created if missing). The file for
// today is opened lazily on the first Write.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("asrun: create dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Write appends entry to today's file, stamping it with the current
// UTC time and chaining it to the previous record's hash. I/O errors
// are logged but never returned as fatal to the caller's playout path
// (spec.md §7 item 7, §4.9): the return value exists for callers that
// want to surface a control-channel warning, not to gate playout.
func (l *Log) Write(entry model.AsRunEntry) error {
	entry.Timestamp = time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeededLocked(entry.Timestamp); err != nil {
		log.Error("as-run log rotation failed", "error", err)
		return err
	}

	rec := record{AsRunEntry: entry, PrevHash: l.lastHash}
	canonical, err := json.Marshal(rec.AsRunEntry)
	if err != nil {
		log.Error("as-run log marshal failed", "error", err)
		return err
	}
	sum := sha256.Sum256(append([]byte(rec.PrevHash), canonical...))
	rec.Hash = hex.EncodeToString(sum[:])

	line, err := json.Marshal(rec)
	if err != nil {
		log.Error("as-run log marshal failed", "error", err)
		return err
	}
	line = append(line, '\n')

	if l.file == nil {
		log.Error("as-run log has no open file")
		return fmt.Errorf("asrun: no open file")
	}
	if _, err := l.file.Write(line); err != nil {
		log.Error("as-run log write failed", "error", err)
		return err
	}
	if err := l.file.Sync(); err != nil {
		log.Error("as-run log sync failed", "error", err)
		return err
	}

	l.lastHash = rec.Hash
	return nil
}

// rotateIfNeededLocked opens today's file if the calendar day has
// changed since the last write, closing yesterday's handle first.
// Caller must hold l.mu.
func (l *Log) rotateIfNeededLocked(now time.Time) error {
	day := now.Format(dateLayout)
	if day == l.day && l.file != nil {
		return nil
	}

	if l.file != nil {
		l.file.Close()
	}

	path := filepath.Join(l.dir, fmt.Sprintf("as-run-%s.jsonl", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("asrun: open %s: %w", path, err)
	}

	l.file = f
	l.day = day
	l.lastHash = ""
	return nil
}

// Close flushes and closes the current file handle, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
