package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aixgo-dev/campaign-tracker/internal/observability"
	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
)

// idLayout is the time-derived part of a session ID.
const idLayout = "20060102_150405"

// maxCollisions bounds the suffixes tried for one base ID.
const maxCollisions = 99

// Store creates, loads and saves session records through a StorageBackend.
//
// A Store is an explicit handle built once per process. Different sessions
// may be written concurrently; a single session must have one writer at a
// time (one driver process per campaign).
type Store struct {
	backend StorageBackend
	name    string
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	lastStamp time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for store events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBackendName labels metrics and spans with the backend kind.
func WithBackendName(name string) Option {
	return func(s *Store) { s.name = name }
}

// NewStore creates a store over the given backend.
func NewStore(backend StorageBackend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		name:    "custom",
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a fresh session for topic and persists it.
func (s *Store) Create(ctx context.Context, topic string) (*Session, error) {
	ctx, span := observability.StartSpanWithContext(ctx, "session.create", map[string]any{"backend": s.name})
	defer span.End()

	now := s.stamp()
	base := now.Format(idLayout)
	id := base
	for n := 1; ; n++ {
		sess := New(id, topic, now)
		err := s.observe("create", func() error { return s.backend.Create(ctx, sess) })
		if err == nil {
			s.logger.Info("session created", zap.String("session_id", id), zap.String("topic", topic))
			return sess, nil
		}
		if !errors.Is(err, ErrSessionExists) || n > maxCollisions {
			span.SetError(err)
			return nil, fmt.Errorf("create session: %w", err)
		}
		id = fmt.Sprintf("%s_%02d", base, n)
	}
}

// Load retrieves a session by ID.
func (s *Store) Load(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := observability.StartSpanWithContext(ctx, "session.load", map[string]any{
		"backend":    s.name,
		"session_id": sessionID,
	})
	defer span.End()

	var sess *Session
	err := s.observe("load", func() error {
		var err error
		sess, err = s.backend.Load(ctx, sessionID)
		return err
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return sess, nil
}

// Latest returns the most recently updated session, or nil if the store is empty.
func (s *Store) Latest(ctx context.Context) (*Session, error) {
	var id string
	err := s.observe("latest", func() error {
		var err error
		id, err = s.backend.Latest(ctx)
		return err
	})
	if errors.Is(err, ErrNoSessions) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest session: %w", err)
	}
	return s.Load(ctx, id)
}

// Resolve loads sessionID, or the latest session when sessionID is empty.
// Returns ErrNoSessions when no ID is given and nothing is stored.
func (s *Store) Resolve(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID != "" {
		return s.Load(ctx, sessionID)
	}
	sess, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSessions
	}
	return sess, nil
}

// List returns session summaries, newest ID first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	var out []Summary
	err := s.observe("list", func() error {
		var err error
		out, err = s.backend.List(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Save persists the whole record and stamps its update time.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	ctx, span := observability.StartSpanWithContext(ctx, "session.save", map[string]any{
		"backend":    s.name,
		"session_id": sess.ID,
	})
	defer span.End()

	sess.UpdatedAt = s.stamp()
	if err := s.observe("save", func() error { return s.backend.Save(ctx, sess) }); err != nil {
		span.SetError(err)
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	s.logger.Debug("session saved", zap.String("session_id", sess.ID), zap.String("status", string(sess.Status)))
	return nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Backend returns the backend kind used for metric and health labels.
func (s *Store) Backend() string { return s.name }

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// stamp returns the current UTC time at microsecond resolution, strictly
// after any stamp this store handed out before. Every backend index can hold
// microseconds exactly, so one writer never produces an index tie.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *Store) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNoSessions), errors.Is(err, ErrSessionExists):
		status = "miss"
	default:
		status = "error"
	}
	metrics.RecordStoreOperation(s.name, op, status, time.Since(start))
	return err
}
