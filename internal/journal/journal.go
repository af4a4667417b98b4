// Package journal keeps an append-only record of every dispatched command.
// Entries are JSON lines in a local file, one per dispatch, whether the
// command was sent or rejected by the safety interlock.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/roverlink/internal/command"
)

var _ command.Recorder = (*FileStore)(nil)

// Entry is a single journal line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Allowed   bool           `json:"allowed"`
	Reason    string         `json:"reason,omitempty"`
	Sent      bool           `json:"sent"`
	Error     string         `json:"error,omitempty"`
}

// FileStore appends entries to a file. Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore that writes to path. The file is created
// on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Record implements command.Recorder. Write failures are logged, never
// returned, so a full disk cannot stall dispatching.
func (fs *FileStore) Record(o command.Outcome) {
	if err := fs.Append(fs.entry(o)); err != nil {
		slog.Warn("journal: record failed", "path", fs.path, "err", err)
	}
}

// Append writes e as one JSON line.
func (fs *FileStore) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

func (fs *FileStore) entry(o command.Outcome) Entry {
	e := Entry{
		Timestamp: fs.now().UTC(),
		Action:    string(o.Command.Action),
		Params:    o.Command.Params,
		Allowed:   o.Verdict.Allowed,
		Reason:    o.Verdict.Reason,
		Sent:      o.Sent,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}
