package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
	"bookdrop/internal/store"
)

// Records persists the expiry of each staged file.
type Records interface {
	SetExpiry(ctx context.Context, filename string, expiresAt time.Time) error
	GetExpiry(ctx context.Context, filename string) (store.EvictionRecord, bool, error)
	DeleteExpiry(ctx context.Context, filename string) error
	ListExpiries(ctx context.Context) ([]store.EvictionRecord, error)
}

// File describes a staged artifact.
type File struct {
	Name      string
	Path      string
	Size      int64
	ExpiresAt time.Time
}

// HasRecord reports whether the file is registered for retention.
func (f File) HasRecord() bool {
	return !f.ExpiresAt.IsZero()
}

// Store writes oversized artifacts into the shared staging directory and
// keeps their eviction records current.
type Store struct {
	dir      string
	lockPath string
	ttl      time.Duration
	reserved map[string]struct{}
	records  Records
	names    *keyedMutex
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry computation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "staging")
		}
	}
}

// WithReserved marks file names that are never staged or reclaimed.
func WithReserved(names ...string) Option {
	return func(s *Store) {
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				s.reserved[name] = struct{}{}
			}
		}
	}
}

// New creates a Store rooted at dir. The directory is created if missing.
func New(dir string, ttl time.Duration, records Records, opts ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "init", "staging directory not set", nil)
	}
	if ttl <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "init", fmt.Sprintf("invalid ttl %s", ttl), nil)
	}
	if records == nil {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "init", "eviction records not provided", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "staging", "init", dir, err)
	}
	s := &Store{
		dir:      dir,
		lockPath: filepath.Join(dir, LockFileName),
		ttl:      ttl,
		reserved: make(map[string]struct{}),
		records:  records,
		names:    newKeyedMutex(),
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromConfig creates a Store using the configured directory, TTL, and
// reserved files.
func NewFromConfig(cfg *config.Config, records Records, opts ...Option) (*Store, error) {
	opts = append([]Option{WithReserved(cfg.Eviction.ReservedFiles...)}, opts...)
	return New(cfg.Paths.StagingDir, cfg.StagedTTL(), records, opts...)
}

// Dir returns the staging directory.
func (s *Store) Dir() string { return s.dir }

// TTL returns the lifetime granted by Stage and Touch.
func (s *Store) TTL() time.Duration { return s.ttl }

// IsReserved reports whether name is a non-artifact file kept out of staging.
func (s *Store) IsReserved(name string) bool {
	_, ok := s.reserved[name]
	return ok
}

func (s *Store) validateName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return services.Wrap(services.ErrValidation, "staging", "name", fmt.Sprintf("invalid name %q", name), nil)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return services.Wrap(services.ErrValidation, "staging", "name", fmt.Sprintf("name %q contains a path separator", name), nil)
	case strings.HasPrefix(name, "."):
		return services.Wrap(services.ErrValidation, "staging", "name", fmt.Sprintf("name %q is hidden", name), nil)
	case s.IsReserved(name):
		return services.Wrap(services.ErrValidation, "staging", "name", fmt.Sprintf("name %q is reserved", name), nil)
	}
	return nil
}

// Stage writes data under name unless a file with that name already exists,
// in which case the existing file is kept and its expiry is reset to
// now + TTL. The file and its record are created together under the
// per-name lock so the reclaimer never observes one without the other.
func (s *Store) Stage(ctx context.Context, name string, data []byte) (File, error) {
	if err := s.validateName(name); err != nil {
		return File{}, err
	}
	var staged File
	err := s.withLock(ctx, name, false, func() error {
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		switch {
		case err == nil:
			expires := s.now().Add(s.ttl)
			if err := s.records.SetExpiry(ctx, name, expires); err != nil {
				return err
			}
			staged = File{Name: name, Path: path, Size: info.Size(), ExpiresAt: expires}
			s.logger.Debug("staged file already present; expiry extended",
				logging.String("file", name),
				logging.Time("expires_at", expires),
			)
			return nil
		case !errors.Is(err, fs.ErrNotExist):
			return services.Wrap(services.ErrStorage, "staging", "stat", path, err)
		}

		if err := s.writeAtomic(path, name, data); err != nil {
			return err
		}
		expires := s.now().Add(s.ttl)
		if err := s.records.SetExpiry(ctx, name, expires); err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logging.WarnWithContext(s.logger, "failed to remove unregistered staged file", "staging_rollback_failed",
					logging.String("file", name),
					logging.Error(rmErr),
					logging.String(logging.FieldErrorHint, "the next sweep removes it as an orphan"),
				)
			}
			return err
		}
		staged = File{Name: name, Path: path, Size: int64(len(data)), ExpiresAt: expires}
		s.logger.Info("staged file written",
			logging.String("file", name),
			logging.Int64("size_bytes", staged.Size),
			logging.Time("expires_at", expires),
			logging.String(logging.FieldEventType, "staging_write"),
		)
		return nil
	})
	if err != nil {
		return File{}, err
	}
	return staged, nil
}

func (s *Store) writeAtomic(path, name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*"+PartialSuffix)
	if err != nil {
		return services.Wrap(services.ErrStorage, "staging", "create temp", name, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return services.Wrap(services.ErrStorage, "staging", "write", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return services.Wrap(services.ErrStorage, "staging", "close", name, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return services.Wrap(services.ErrStorage, "staging", "chmod", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return services.Wrap(services.ErrStorage, "staging", "rename", name, err)
	}
	return nil
}

// PartialSuffix marks in-progress writes. Partial files are hidden.
const PartialSuffix = ".partial"

// IsPartial reports whether a directory entry name is an in-progress write.
func IsPartial(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, PartialSuffix)
}

// Touch resets the expiry of an existing staged file to now + TTL, creating
// the record if it is missing. It reports false when the file itself is gone.
func (s *Store) Touch(ctx context.Context, name string) (File, bool, error) {
	if err := s.validateName(name); err != nil {
		return File{}, false, err
	}
	var (
		touched File
		found   bool
	)
	err := s.withLock(ctx, name, false, func() error {
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return services.Wrap(services.ErrStorage, "staging", "stat", path, err)
		}
		expires := s.now().Add(s.ttl)
		if err := s.records.SetExpiry(ctx, name, expires); err != nil {
			return err
		}
		touched = File{Name: name, Path: path, Size: info.Size(), ExpiresAt: expires}
		found = true
		return nil
	})
	if err != nil {
		return File{}, false, err
	}
	if found {
		s.logger.Info("staged file expiry extended",
			logging.String("file", name),
			logging.Time("expires_at", touched.ExpiresAt),
			logging.String(logging.FieldEventType, "staging_touch"),
		)
	}
	return touched, found, nil
}

// Lookup returns the staged file and its expiry, if present on disk.
func (s *Store) Lookup(ctx context.Context, name string) (File, bool, error) {
	if err := s.validateName(name); err != nil {
		return File{}, false, err
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, false, nil
		}
		return File{}, false, services.Wrap(services.ErrStorage, "staging", "stat", path, err)
	}
	rec, ok, err := s.records.GetExpiry(ctx, name)
	if err != nil {
		return File{}, false, err
	}
	file := File{Name: name, Path: path, Size: info.Size()}
	if ok {
		file.ExpiresAt = rec.ExpiresAt
	}
	return file, true, nil
}

// List returns every staged artifact on disk, sorted by name. Files without
// a record have a zero ExpiresAt.
func (s *Store) List(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "staging", "list", s.dir, err)
	}
	records, err := s.records.ListExpiries(ctx)
	if err != nil {
		return nil, err
	}
	expiries := make(map[string]time.Time, len(records))
	for _, rec := range records {
		expiries[rec.Filename] = rec.ExpiresAt
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || s.IsReserved(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name:      name,
			Path:      filepath.Join(s.dir, name),
			Size:      info.Size(),
			ExpiresAt: expiries[name],
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Remove deletes a staged file and its record.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := s.validateName(name); err != nil {
		return err
	}
	return s.withLock(ctx, name, true, func() error {
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrStorage, "staging", "remove", path, err)
		}
		return s.records.DeleteExpiry(ctx, name)
	})
}

// Exclusive runs fn with the per-name lock and the directory lock held
// exclusively. The reclaimer uses it so no writer in any process is
// mid-write while it inspects and deletes a file.
func (s *Store) Exclusive(ctx context.Context, name string, fn func() error) error {
	return s.withLock(ctx, name, true, fn)
}
