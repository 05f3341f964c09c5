package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds Google Cloud Firestore configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string `yaml:"project_id" env:"PROJECT_ID"`
	// Collection holds one document per session (default: "campaign_sessions").
	Collection string `yaml:"collection" env:"COLLECTION"`
	// CredentialsFile is an optional service account key; otherwise
	// Application Default Credentials are used.
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
}

const defaultFirestoreCollection = "campaign_sessions"

// firestoreDoc is the stored document. The record is kept as a JSON string
// so opaque posts and quotes survive byte for byte.
type firestoreDoc struct {
	Topic     string `firestore:"topic"`
	Status    string `firestore:"status"`
	UpdatedAt int64  `firestore:"updated_at"`
	Record    string `firestore:"record"`
}

// FirestoreBackend implements StorageBackend on a Firestore collection.
// Latest needs a composite index on (updated_at DESC, __name__ DESC).
type FirestoreBackend struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	mu     sync.RWMutex
	closed bool
}

// NewFirestoreBackend creates a Firestore client for the configured project.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewFirestoreBackendFromClient(client, cfg.Collection), nil
}

// NewFirestoreBackendFromClient wraps an existing client, e.g. one pointed at the emulator.
func NewFirestoreBackendFromClient(client *firestore.Client, collection string) *FirestoreBackend {
	if collection == "" {
		collection = defaultFirestoreCollection
	}
	return &FirestoreBackend{
		client: client,
		coll:   client.Collection(collection),
	}
}

func (b *FirestoreBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func toFirestoreDoc(s *Session) (*firestoreDoc, error) {
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return &firestoreDoc{
		Topic:     s.Topic,
		Status:    string(s.Status),
		UpdatedAt: s.UpdatedAt.UnixMicro(),
		Record:    string(data),
	}, nil
}

// Create stores a new document; AlreadyExists maps to ErrSessionExists.
func (b *FirestoreBackend) Create(ctx context.Context, s *Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	doc, err := toFirestoreDoc(s)
	if err != nil {
		return err
	}

	if _, err := b.coll.Doc(s.ID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrSessionExists
		}
		return fmt.Errorf("create session document: %w", err)
	}
	return nil
}

// Save overwrites the document for s.
func (b *FirestoreBackend) Save(ctx context.Context, s *Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	doc, err := toFirestoreDoc(s)
	if err != nil {
		return err
	}

	if _, err := b.coll.Doc(s.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("set session document: %w", err)
	}
	return nil
}

// Load retrieves a session by ID.
func (b *FirestoreBackend) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ref := b.coll.Doc(sessionID)
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session document: %w", err)
	}

	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, &CorruptError{SessionID: sessionID, Location: ref.Path, Err: err}
	}
	return Decode([]byte(doc.Record), sessionID, ref.Path)
}

// Latest returns the most recently updated session ID.
func (b *FirestoreBackend) Latest(ctx context.Context) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}

	iter := b.coll.
		OrderBy("updated_at", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return "", ErrNoSessions
	}
	if err != nil {
		return "", fmt.Errorf("query latest session: %w", err)
	}
	return snap.Ref.ID, nil
}

// List returns session summaries ordered by ID, newest first.
func (b *FirestoreBackend) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	query := b.coll.Select("topic", "status", "updated_at").OrderBy(firestore.DocumentID, firestore.Desc)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	summaries := []Summary{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		var doc firestoreDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, &CorruptError{SessionID: snap.Ref.ID, Location: snap.Ref.Path, Err: err}
		}
		summaries = append(summaries, Summary{
			ID:        snap.Ref.ID,
			Topic:     doc.Topic,
			Status:    Status(doc.Status),
			UpdatedAt: time.UnixMicro(doc.UpdatedAt).UTC(),
		})
	}
	return summaries, nil
}

// Ping runs a one-document query against the collection.
func (b *FirestoreBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	iter := b.coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
