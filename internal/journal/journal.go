// Package journal persists one structured record per processed task: always
// to an append-only JSONL file, optionally mirrored into a local SQLite
// history or a Postgres database.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/czpavel/visionfeed/internal/models"
)

// Writer persists task records.
type Writer interface {
	Record(rec models.TaskRecord) error
	Close() error
}

// JSONL appends line-delimited JSON records to a single file.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONL opens (creating directories as needed) the journal file for
// appending.
func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &JSONL{file: file}, nil
}

// Record appends one record as a single JSON line.
func (w *JSONL) Record(rec models.TaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.file.Write(append(data, '\n'))
	return err
}

// Close closes the underlying file.
func (w *JSONL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Multi fans one record out to several writers. A failing sink is logged
// and skipped; the journal never takes the runner down.
type Multi struct {
	writers []Writer
	logger  *slog.Logger
}

// NewMulti wraps the given writers.
func NewMulti(logger *slog.Logger, writers ...Writer) *Multi {
	return &Multi{writers: writers, logger: logger}
}

// Record writes to every sink, logging per-sink failures.
func (m *Multi) Record(rec models.TaskRecord) error {
	for _, w := range m.writers {
		if err := w.Record(rec); err != nil {
			m.logger.Warn("journal sink failed", "error", err)
		}
	}
	return nil
}

// Close closes every sink, returning the first error.
func (m *Multi) Close() error {
	var first error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
