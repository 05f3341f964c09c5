package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendLayout(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()
	s := testSession("20260314_092653", 0)
	if err := backend.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, path := range []string{
		filepath.Join(dir, "session_20260314_092653.json"),
		filepath.Join(dir, "index", "20260314_092653.json"),
	} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", path, err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("%s mode = %v, want 0600", path, info.Mode().Perm())
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestFileBackendDefaultDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	backend, err := NewFileBackend("")
	if err != nil {
		t.Fatalf("NewFileBackend(\"\") error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	want := filepath.Join(home, ".social_publisher", "tracker")
	if backend.Dir() != want {
		t.Errorf("Dir() = %q, want %q", backend.Dir(), want)
	}
}

func TestFileBackendIgnoresPublisherSessions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	legacy := filepath.Join(home, ".social_publisher", "sessions")
	if err := os.MkdirAll(legacy, 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	record := `{"session_id": "20260314_092653", "topic": "t", "created_at": "2026-03-14T09:26:53.123456",
		"verification": {"verified_at": ""}}`
	if err := os.WriteFile(filepath.Join(legacy, "session_20260314_092653.json"), []byte(record), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	backend, err := NewFileBackend("")
	if err != nil {
		t.Fatalf("NewFileBackend(\"\") error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()
	if _, err := backend.Latest(ctx); !errors.Is(err, ErrNoSessions) {
		t.Errorf("Latest() error = %v, want ErrNoSessions", err)
	}
	if _, err := backend.Load(ctx, "20260314_092653"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load() error = %v, want ErrSessionNotFound", err)
	}
}

func TestFileBackendCreateRollsBackOnIndexFailure(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	// A non-empty directory at the index path makes the rename fail.
	blocker := filepath.Join(dir, "index", "20260314_092653.json")
	if err := os.MkdirAll(filepath.Join(blocker, "x"), 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	ctx := context.Background()
	s := testSession("20260314_092653", 0)
	if err := backend.Create(ctx, s); err == nil {
		t.Fatal("Create() should fail when the index entry cannot be written")
	}
	if _, err := os.Stat(filepath.Join(dir, "session_20260314_092653.json")); !os.IsNotExist(err) {
		t.Errorf("record left behind after failed Create: %v", err)
	}

	if err := os.RemoveAll(blocker); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if err := backend.Create(ctx, s); err != nil {
		t.Fatalf("retry Create() error = %v", err)
	}
	if id, err := backend.Latest(ctx); err != nil || id != s.ID {
		t.Errorf("Latest() = %q, %v; want %q", id, err, s.ID)
	}
}

func TestFileBackendCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()
	s := testSession("20260314_092653", 0)
	if err := backend.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	path := filepath.Join(dir, "session_20260314_092653.json")
	if err := os.WriteFile(path, []byte(`{"session_id": "20260314_092653", "status": 3}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err = backend.Load(ctx, s.ID)
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("Load() error = %v, want *CorruptError", err)
	}
	if cerr.Location != path {
		t.Errorf("Location = %q, want %q", cerr.Location, path)
	}
	if cerr.Field != "status" {
		t.Errorf("Field = %q, want status", cerr.Field)
	}
}

func TestFileBackendCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	path := filepath.Join(dir, "index", "20260314_092653.json")
	if err := os.WriteFile(path, []byte(`{"session_id": "20260101_000000"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctx := context.Background()
	if _, err := backend.Latest(ctx); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Latest() error = %v, want ErrCorrupt", err)
	}
	if _, err := backend.List(ctx, ListOptions{}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("List() error = %v, want ErrCorrupt", err)
	}
}

func TestPathTraversalPrevention(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()
	cases := []struct {
		name      string
		sessionID string
	}{
		{"slash", "../../../etc/passwd"},
		{"backslash", `..\etc`},
		{"dotdot", "foo..bar"},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSession(tc.sessionID, 0)
			if err := backend.Save(ctx, s); err == nil {
				t.Errorf("Save() should reject session ID %q", tc.sessionID)
			}
			if err := backend.Create(ctx, s); err == nil {
				t.Errorf("Create() should reject session ID %q", tc.sessionID)
			}
			if _, err := backend.Load(ctx, tc.sessionID); err == nil {
				t.Errorf("Load() should reject session ID %q", tc.sessionID)
			}
		})
	}
}
