package eviction

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bookdrop/internal/logging"
	"bookdrop/internal/metrics"
	"bookdrop/internal/services"
	"bookdrop/internal/staging"
	"bookdrop/internal/store"
)

// Domain is the staging directory as seen by the reclaimer. *staging.Store
// implements it.
type Domain interface {
	Dir() string
	TTL() time.Duration
	IsReserved(name string) bool
	Exclusive(ctx context.Context, name string, fn func() error) error
}

var _ Domain = (*staging.Store)(nil)

// Records is the eviction record table.
type Records interface {
	GetExpiry(ctx context.Context, filename string) (store.EvictionRecord, bool, error)
	DeleteExpiry(ctx context.Context, filename string) error
	ListExpiries(ctx context.Context) ([]store.EvictionRecord, error)
}

// Removal reasons.
const (
	ReasonExpired = "expired"
	ReasonOrphan  = "orphan"
	ReasonPartial = "partial"
	ReasonStale   = "stale_record"
)

// Removed describes one reclaimed file or record.
type Removed struct {
	Name   string
	Reason string
}

// FileError pairs a file name with the error that prevented reclaiming it.
type FileError struct {
	Name string
	Err  error
}

// SweepResult contains the outcome of one sweep.
type SweepResult struct {
	Removed        []Removed
	Errors         []FileError
	Kept           int
	RemainingBytes int64
}

// Count returns the number of removals with the given reason.
func (r SweepResult) Count(reason string) int {
	n := 0
	for _, rm := range r.Removed {
		if rm.Reason == reason {
			n++
		}
	}
	return n
}

// Sweeper performs single sweeps over the staging directory.
type Sweeper struct {
	domain  Domain
	records Records
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSweeper constructs a Sweeper.
func NewSweeper(domain Domain, records Records, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		domain:  domain,
		records: records,
		logger:  logging.NewComponentLogger(logger, "eviction"),
		metrics: m,
	}
}

// Sweep reclaims expired and orphaned staged files as of now. Failures on
// individual files are collected and logged; they never abort the sweep.
// Cancellation is checked between files.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) SweepResult {
	result := SweepResult{}
	dir := s.domain.Dir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, FileError{Name: dir, Err: err})
			s.logFailure(dir, err)
		}
		s.finish(result)
		return result
	}

	onDisk := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		onDisk[name] = struct{}{}
		if !entry.Type().IsRegular() || s.domain.IsReserved(name) {
			continue
		}
		if strings.HasPrefix(name, ".") {
			if staging.IsPartial(name) {
				s.sweepPartial(ctx, name, now, &result)
			}
			continue
		}
		s.sweepFile(ctx, name, now, &result)
	}

	if ctx.Err() == nil {
		s.dropStaleRecords(ctx, onDisk, &result)
	}

	s.finish(result)
	return result
}

func (s *Sweeper) sweepFile(ctx context.Context, name string, now time.Time, result *SweepResult) {
	path := filepath.Join(s.domain.Dir(), name)
	var (
		reason string
		kept   int64 = -1
	)
	err := s.domain.Exclusive(ctx, name, func() error {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rec, ok, err := s.records.GetExpiry(ctx, name)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			reason = ReasonOrphan
		case rec.Expired(now):
			reason = ReasonExpired
		default:
			kept = info.Size()
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			reason = ""
			return err
		}
		if ok {
			if err := s.records.DeleteExpiry(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		result.Errors = append(result.Errors, FileError{Name: name, Err: err})
		s.logFailure(name, err)
		return
	}
	if kept >= 0 {
		result.Kept++
		result.RemainingBytes += kept
		return
	}
	if reason != "" {
		result.Removed = append(result.Removed, Removed{Name: name, Reason: reason})
		s.logger.Info("staged file reclaimed",
			logging.String("file", name),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "eviction_removed"),
		)
	}
}

// sweepPartial removes abandoned partial writes. The exclusive directory
// lock guarantees no writer is mid-write, so any partial file old enough
// to predate the TTL window was left by a crashed process.
func (s *Sweeper) sweepPartial(ctx context.Context, name string, now time.Time, result *SweepResult) {
	path := filepath.Join(s.domain.Dir(), name)
	removed := false
	err := s.domain.Exclusive(ctx, name, func() error {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if now.Sub(info.ModTime()) < s.domain.TTL() {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		result.Errors = append(result.Errors, FileError{Name: name, Err: err})
		s.logFailure(name, err)
		return
	}
	if removed {
		result.Removed = append(result.Removed, Removed{Name: name, Reason: ReasonPartial})
		s.logger.Info("abandoned partial file removed",
			logging.String("file", name),
			logging.String(logging.FieldEventType, "eviction_partial_removed"),
		)
	}
}

func (s *Sweeper) dropStaleRecords(ctx context.Context, onDisk map[string]struct{}, result *SweepResult) {
	records, err := s.records.ListExpiries(ctx)
	if err != nil {
		result.Errors = append(result.Errors, FileError{Name: "eviction_records", Err: err})
		s.logFailure("eviction_records", err)
		return
	}
	for _, rec := range records {
		if _, present := onDisk[rec.Filename]; present {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(s.domain.Dir(), rec.Filename)
		dropped := false
		err := s.domain.Exclusive(ctx, rec.Filename, func() error {
			if _, err := os.Stat(path); err == nil {
				return nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			dropped = true
			return s.records.DeleteExpiry(ctx, rec.Filename)
		})
		if err != nil {
			result.Errors = append(result.Errors, FileError{Name: rec.Filename, Err: err})
			s.logFailure(rec.Filename, err)
			continue
		}
		if dropped {
			result.Removed = append(result.Removed, Removed{Name: rec.Filename, Reason: ReasonStale})
		}
	}
}

func (s *Sweeper) finish(result SweepResult) {
	s.metrics.SweepCompleted(
		result.Count(ReasonExpired),
		result.Count(ReasonOrphan),
		result.Count(ReasonPartial),
		len(result.Errors),
		result.Kept,
		result.RemainingBytes,
	)
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		s.logger.Info("eviction sweep completed",
			logging.Int("removed", len(result.Removed)),
			logging.Int("kept", result.Kept),
			logging.Int("failures", len(result.Errors)),
			logging.String(logging.FieldEventType, "eviction_sweep"),
		)
	}
}

func (s *Sweeper) logFailure(name string, err error) {
	hint := "check staging_dir permissions"
	if errors.Is(err, services.ErrStorage) {
		hint = "check the bookdrop database"
	}
	logging.WarnWithContext(s.logger, "failed to reclaim staged file", "eviction_failed",
		logging.String("file", name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "disk space not reclaimed until the next sweep"),
	)
}
