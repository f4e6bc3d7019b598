package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/platinummonkey/tally/pkg/analytics"
)

// JournalFileName is the append-only event log kept under the store root
const JournalFileName = "events.jsonl"

// FileSystemStore is a MemoryStore backed by a JSON-lines journal on the
// local filesystem. The journal is replayed on open, so events survive restarts.
type FileSystemStore struct {
	*MemoryStore

	mu      sync.Mutex
	rootDir string
	journal *os.File
}

// NewFileSystemStore opens (or creates) the journal under rootDir and loads it
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	path := filepath.Join(rootDir, JournalFileName)
	mem := NewMemoryStore()
	if err := replayJournal(path, mem); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &FileSystemStore{
		MemoryStore: mem,
		rootDir:     rootDir,
		journal:     f,
	}, nil
}

func replayJournal(path string, mem *MemoryStore) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e analytics.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("journal line %d: %w", line, err)
		}
		if mem.contains(e.ID) {
			continue
		}
		mem.insert(&e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	return nil
}

// Append writes the event to the journal before making it visible to scans
func (s *FileSystemStore) Append(ctx context.Context, event *analytics.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.journal == nil {
		return analytics.ErrStoreClosed
	}
	if s.MemoryStore.contains(event.ID) {
		return fmt.Errorf("event %s: %w", event.ID, analytics.ErrDuplicateEvent)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.journal.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}

	return s.MemoryStore.add(event)
}

// RootDir returns the directory holding the journal
func (s *FileSystemStore) RootDir() string {
	return s.rootDir
}

// Close flushes and closes the journal
func (s *FileSystemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.journal == nil {
		return nil
	}
	_ = s.MemoryStore.Close()

	var errs []error
	if err := s.journal.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync journal: %w", err))
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
	}
	s.journal = nil
	return errors.Join(errs...)
}
