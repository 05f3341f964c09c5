package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Create when the id is already taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrNoSessions is returned when a lookup needs a session but the store is empty.
	ErrNoSessions = errors.New("no sessions recorded")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
	// ErrCorrupt matches every *CorruptError.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrInvalidInput matches every *InputError.
	ErrInvalidInput = errors.New("invalid input")
)

// CorruptError reports a persisted record that cannot be read back into a Session.
type CorruptError struct {
	SessionID string
	// Location names where the record lives: a file path, a key, a row or a document path.
	Location string
	// Field is the offending JSON field path, when known.
	Field string
	Err   error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("session %s corrupt at %s", e.SessionID, e.Location)
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// InputError reports input rejected before any mutation took place.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// StorageBackend abstracts session persistence.
// Implementations must keep each record and its index entry independent of
// every other session so that different sessions can be written concurrently.
type StorageBackend interface {
	// Create persists a new session.
	// Returns ErrSessionExists if a record with the same ID is already stored.
	Create(ctx context.Context, s *Session) error

	// Save replaces the whole record and refreshes its index entry.
	Save(ctx context.Context, s *Session) error

	// Load retrieves a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist and a
	// *CorruptError if the stored form cannot be decoded.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Latest returns the ID of the most recently updated session.
	// Ties on the update time resolve to the greatest ID.
	// Returns ErrNoSessions if nothing is stored.
	Latest(ctx context.Context) (string, error)

	// List returns session summaries ordered by ID, newest first.
	List(ctx context.Context, opts ListOptions) ([]Summary, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

func quote(s string) string { return strconv.Quote(s) }
