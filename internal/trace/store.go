package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a session has no persisted trace.
var ErrNotFound = errors.New("trace: not found")

// Store is durable keyed storage for finalized traces, one per session.
type Store interface {
	// Save persists a finalized trace, replacing any previous record for
	// the same session.
	Save(t *Trace) error
	// Load returns the trace for a session, or ErrNotFound.
	Load(sessionID string) (*Trace, error)
	// LoadAll returns every readable trace plus the number of malformed
	// records skipped. Partial or corrupt records never abort the read.
	LoadAll() ([]*Trace, int, error)
	Close() error
}

// FileStore persists each trace as <session_id>.json under a directory.
type FileStore struct {
	dir string
}

// OpenFileStore creates the trace directory if needed.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trace dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *FileStore) Save(t *Trace) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("trace marshal: %w", err)
	}

	// Write-then-rename so a concurrent analysis pass never observes a
	// half-written file under the final name.
	tmp := s.path(t.SessionID) + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("trace write: %w", err)
	}
	if err = os.Rename(tmp, s.path(t.SessionID)); err != nil {
		return fmt.Errorf("trace rename: %w", err)
	}
	return nil
}

func (s *FileStore) Load(sessionID string) (*Trace, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("trace read: %w", err)
	}
	var t Trace
	if err = json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("trace decode: %w", err)
	}
	return &t, nil
}

func (s *FileStore) LoadAll() ([]*Trace, int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("trace dir read: %w", err)
	}

	var traces []*Trace
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if readErr != nil {
			slog.Warn("trace file unreadable, skipping", "file", entry.Name(), "error", readErr)
			skipped++
			continue
		}
		var t Trace
		if decodeErr := json.Unmarshal(data, &t); decodeErr != nil {
			slog.Warn("trace file malformed, skipping", "file", entry.Name(), "error", decodeErr)
			skipped++
			continue
		}
		traces = append(traces, &t)
	}
	return traces, skipped, nil
}

func (s *FileStore) Close() error { return nil }
