// Package pending persists interim applications as one JSON collection file.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
	"enrolld/pkg/platform/sentinel"
	"enrolld/pkg/requestcontext"
)

// CollectionLockKey guards every rewrite of the collection file.
const CollectionLockKey = "pending-collection"

// Annotator decorates records on read without changing their state.
type Annotator interface {
	Annotate(ctx context.Context, app *models.PendingApplication)
	AnnotateAll(ctx context.Context, apps []*models.PendingApplication)
}

// Store is a file-backed collection keyed by national ID. Every mutation is a
// locked read-modify-write that replaces the file atomically.
type Store struct {
	path      string
	locker    Locker
	annotator Annotator
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option {
	return func(s *Store) {
		s.locker = l
	}
}

// WithAnnotator runs a on every Get and ListAll.
func WithAnnotator(a Annotator) Option {
	return func(s *Store) {
		s.annotator = a
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens (creating its directory if needed) the collection at path.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("pending collection path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create pending collection dir: %w", err)
	}
	s := &Store{path: path, locker: NewKeyedLocker(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetAnnotator installs the annotator after construction, for wiring that
// needs the store before the annotator exists.
func (s *Store) SetAnnotator(a Annotator) {
	s.annotator = a
}

// Get returns the record for id, annotated, or sentinel.ErrNotFound.
func (s *Store) Get(ctx context.Context, id domain.NationalID) (*models.PendingApplication, error) {
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.NationalID == id {
			if s.annotator != nil {
				s.annotator.Annotate(ctx, record)
			}
			return record, nil
		}
	}
	return nil, fmt.Errorf("get pending application: %w", sentinel.ErrNotFound)
}

// ListAll returns every record, annotated, ordered by national ID.
func (s *Store) ListAll(ctx context.Context) ([]*models.PendingApplication, error) {
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	if s.annotator != nil && len(records) > 0 {
		s.annotator.AnnotateAll(ctx, records)
	}
	return records, nil
}

// Upsert inserts app or replaces the record with the same national ID. When
// app.Version is non-zero it must match the stored version. The stored copy,
// with its new version, is returned.
func (s *Store) Upsert(ctx context.Context, app *models.PendingApplication) (*models.PendingApplication, error) {
	if app == nil || app.NationalID.IsNil() {
		return nil, fmt.Errorf("pending application with national ID is required")
	}
	var stored *models.PendingApplication
	err := s.mutate(ctx, func(records []*models.PendingApplication) ([]*models.PendingApplication, error) {
		next := app.Clone()
		next.AlreadyCommitted = false
		next.CommittedSummary = nil
		next.UpdatedAt = requestcontext.Now(ctx).UTC()

		for i, existing := range records {
			if existing.NationalID != app.NationalID {
				continue
			}
			if app.Version != 0 && existing.Version != app.Version {
				return nil, fmt.Errorf("upsert pending application %s at version %d (stored %d): %w",
					app.NationalID, app.Version, existing.Version, sentinel.ErrConflict)
			}
			next.Version = existing.Version + 1
			records[i] = next
			stored = next.Clone()
			return records, nil
		}
		if app.Version != 0 {
			return nil, fmt.Errorf("upsert pending application %s at version %d: record no longer exists: %w",
				app.NationalID, app.Version, sentinel.ErrConflict)
		}
		next.Version = 1
		stored = next.Clone()
		return append(records, next), nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Remove deletes the record for id, or returns sentinel.ErrNotFound.
func (s *Store) Remove(ctx context.Context, id domain.NationalID) error {
	return s.mutate(ctx, func(records []*models.PendingApplication) ([]*models.PendingApplication, error) {
		for i, existing := range records {
			if existing.NationalID == id {
				return append(records[:i], records[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("remove pending application: %w", sentinel.ErrNotFound)
	})
}

func (s *Store) mutate(ctx context.Context, fn func([]*models.PendingApplication) ([]*models.PendingApplication, error)) error {
	unlock, err := s.locker.Lock(ctx, CollectionLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records, err = fn(records)
	if err != nil {
		return err
	}
	return s.write(records)
}

func (s *Store) read() ([]*models.PendingApplication, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*models.PendingApplication{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending collection: %w", err)
	}
	if len(data) == 0 {
		return []*models.PendingApplication{}, nil
	}
	var records []*models.PendingApplication
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode pending collection: %w", err)
	}
	return records, nil
}

func (s *Store) write(records []*models.PendingApplication) error {
	sort.Slice(records, func(i, j int) bool {
		return records[i].NationalID < records[j].NationalID
	})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pending collection: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pending-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create pending temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write pending temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync pending temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close pending temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace pending collection: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.logger.Warn("sync pending collection dir", "error", err)
		}
		_ = d.Close()
	}
	return nil
}
