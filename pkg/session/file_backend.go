package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// indexReadConcurrency bounds parallel reads of index entries.
const indexReadConcurrency = 8

// FileBackend implements StorageBackend using one JSON file per session.
// Storage layout:
//
//	~/.social_publisher/tracker/
//	  ├── session_<id>.json     # full session record
//	  └── index/
//	      └── <id>.json         # last-updated index entry
//
// Records and index entries are written to a temporary file and renamed into
// place, so readers see either the previous or the new version.
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based storage backend.
// If baseDir is empty, uses ~/.social_publisher/tracker. The sibling
// sessions/ directory belongs to the publisher script, whose records carry
// zone-less timestamps and no index entries; it is never read.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".social_publisher", "tracker")
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "index"), 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{
		baseDir: baseDir,
	}, nil
}

// Dir returns the directory holding the session files.
func (f *FileBackend) Dir() string {
	return f.baseDir
}

func (f *FileBackend) recordPath(sessionID string) string {
	return filepath.Join(f.baseDir, "session_"+sessionID+".json")
}

func (f *FileBackend) indexPath(sessionID string) string {
	return filepath.Join(f.baseDir, "index", sessionID+".json")
}

// Create persists a new session, failing with ErrSessionExists if the record file exists.
func (f *FileBackend) Create(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	if err := validatePathComponent(s.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}

	// Link the fully written temp file into place: the link fails if the
	// target exists, which makes creation exclusive without an empty window.
	tmp, err := writeTemp(f.baseDir, data)
	if err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := os.Link(tmp, f.recordPath(s.ID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrSessionExists
		}
		return fmt.Errorf("link session record: %w", err)
	}

	// An unindexed record is invisible to Latest and List, so undo the
	// link and leave the ID free for a retry.
	if err := f.writeIndex(s); err != nil {
		_ = os.Remove(f.recordPath(s.ID))
		return err
	}
	return nil
}

// Save replaces the whole record and refreshes its index entry.
func (f *FileBackend) Save(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	if err := validatePathComponent(s.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := writeAtomic(f.recordPath(s.ID), data); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}

	return f.writeIndex(s)
}

// writeIndex stores the index entry for s. Caller must hold the write lock.
func (f *FileBackend) writeIndex(s *Session) error {
	data, err := json.Marshal(s.Summary())
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	if err := writeAtomic(f.indexPath(s.ID), data); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}
	return nil
}

// Load retrieves a session by ID.
func (f *FileBackend) Load(ctx context.Context, sessionID string) (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	path := f.recordPath(sessionID)
	data, err := os.ReadFile(path) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session record: %w", err)
	}

	return Decode(data, sessionID, path)
}

// Latest returns the ID of the most recently updated session.
func (f *FileBackend) Latest(ctx context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return "", ErrStorageClosed
	}

	entries, err := f.readIndex(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNoSessions
	}

	latest := entries[0]
	for _, e := range entries[1:] {
		if e.UpdatedAt.After(latest.UpdatedAt) ||
			(e.UpdatedAt.Equal(latest.UpdatedAt) && e.ID > latest.ID) {
			latest = e
		}
	}
	return latest.ID, nil
}

// List returns session summaries ordered by ID, newest first.
func (f *FileBackend) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	entries, err := f.readIndex(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID > entries[j].ID
	})

	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// readIndex loads every index entry. Caller must hold a read lock.
func (f *FileBackend) readIndex(ctx context.Context) ([]Summary, error) {
	dir := filepath.Join(f.baseDir, "index")
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("read index directory: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		names = append(names, de.Name())
	}

	summaries := make([]Summary, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexReadConcurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path) // #nosec G304 - names come from the index directory listing
			if err != nil {
				return fmt.Errorf("read index entry: %w", err)
			}
			id := strings.TrimSuffix(name, ".json")
			if err := json.Unmarshal(data, &summaries[i]); err != nil {
				return &CorruptError{SessionID: id, Location: path, Err: err}
			}
			if summaries[i].ID != id {
				return &CorruptError{SessionID: id, Location: path, Field: "session_id",
					Err: fmt.Errorf("entry holds %q", summaries[i].ID)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Ping checks that the base directory is still accessible.
func (f *FileBackend) Ping(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrStorageClosed
	}
	if _, err := os.Stat(f.baseDir); err != nil {
		return fmt.Errorf("stat base directory: %w", err)
	}
	return nil
}

// Close releases any resources held by the backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// writeTemp writes data to a new temporary file in dir and returns its path.
func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0600); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// writeAtomic replaces path with data via a temporary file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
