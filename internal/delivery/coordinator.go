package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"bookdrop/internal/archive"
	"bookdrop/internal/books"
	"bookdrop/internal/catalog"
	"bookdrop/internal/config"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/logging"
	"bookdrop/internal/metrics"
	"bookdrop/internal/mirror"
	"bookdrop/internal/services"
)

// ShareScript is the reserved bootstrap file that serves staged files.
const ShareScript = "download.php"

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Cache   handlecache.Cache
	Catalog catalog.Lookup
	Fetcher mirror.Fetcher
	Stager  Stager
	Surface Surface
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Coordinator serves delivery requests through the cheapest available
// path: cached handle, fresh inline upload, or staged file with a link.
type Coordinator struct {
	cache     handlecache.Cache
	catalog   catalog.Lookup
	fetcher   mirror.Fetcher
	stager    Stager
	surface   Surface
	extractor archive.Extractor
	metrics   *metrics.Metrics
	logger    *slog.Logger

	shareBase       string
	inlineThreshold int64

	fetchSlots *semaphore.Weighted
	requests   singleflight.Group
	fetches    singleflight.Group
	now        func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New wires a Coordinator from configuration and collaborators.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Cache == nil:
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "init", "handle cache not provided", nil)
	case deps.Catalog == nil:
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "init", "catalog not provided", nil)
	case deps.Fetcher == nil:
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "init", "mirror fetcher not provided", nil)
	case deps.Stager == nil:
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "init", "staging store not provided", nil)
	case deps.Surface == nil:
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "init", "delivery surface not provided", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	slots := int64(cfg.Delivery.MaxConcurrentFetches)
	if slots <= 0 {
		slots = 1
	}
	c := &Coordinator{
		cache:           deps.Cache,
		catalog:         deps.Catalog,
		fetcher:         deps.Fetcher,
		stager:          deps.Stager,
		surface:         deps.Surface,
		extractor:       archive.Extractor{MaxMemberBytes: cfg.Delivery.MaxArtifactBytes},
		metrics:         deps.Metrics,
		logger:          logging.NewComponentLogger(logger, "delivery"),
		shareBase:       strings.TrimRight(cfg.Delivery.ShareBaseURL, "/"),
		inlineThreshold: cfg.Delivery.InlineThresholdBytes,
		fetchSlots:      semaphore.NewWeighted(slots),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ShareURL builds the public link for a staged file.
func (c *Coordinator) ShareURL(name string) string {
	return fmt.Sprintf("%s/%s?filename=%s", c.shareBase, ShareScript, url.QueryEscape(name))
}

// Deliver serves one request. Concurrent identical requests for the same
// recipient are coalesced into one.
func (c *Coordinator) Deliver(ctx context.Context, req Request) Outcome {
	if err := validate(req); err != nil {
		return c.failed("", err)
	}
	key := fmt.Sprintf("deliver:%d:%d:%s", req.To.ChatID, req.BookID, req.Format)
	v, _, _ := c.requests.Do(key, func() (any, error) {
		return c.run(ctx, req, "deliver", c.deliver), nil
	})
	return v.(Outcome)
}

// Refresh extends the lifetime of a staged file and re-sends its link. If the
// file has already been evicted, it is fetched and staged again.
func (c *Coordinator) Refresh(ctx context.Context, req Request) Outcome {
	if err := validate(req); err != nil {
		return c.failed("", err)
	}
	key := fmt.Sprintf("refresh:%d:%d:%s", req.To.ChatID, req.BookID, req.Format)
	v, _, _ := c.requests.Do(key, func() (any, error) {
		return c.run(ctx, req, "refresh", c.refresh), nil
	})
	return v.(Outcome)
}

// ReportBroken drops the cached handle for a book the user could not open,
// so the next request uploads a fresh copy.
func (c *Coordinator) ReportBroken(ctx context.Context, bookID int64, format books.Format) error {
	if err := c.cache.Invalidate(ctx, bookID, format); err != nil {
		c.metrics.HandleCacheEvent("error")
		return err
	}
	c.metrics.HandleCacheEvent("invalidated")
	c.logger.Info("cached handle dropped on user report",
		logging.BookID(bookID),
		logging.Format(string(format)),
		logging.String(logging.FieldEventType, "handle_reported_broken"),
	)
	return nil
}

func validate(req Request) error {
	if req.BookID <= 0 {
		return services.Wrap(services.ErrValidation, "delivery", "request", fmt.Sprintf("invalid book id %d", req.BookID), nil)
	}
	if _, err := books.ParseFormat(string(req.Format)); err != nil {
		return err
	}
	return nil
}

type stepFunc func(ctx context.Context, req Request, logger *slog.Logger) Outcome

func (c *Coordinator) run(ctx context.Context, req Request, op string, step stepFunc) Outcome {
	requestID := uuid.NewString()
	ctx = services.WithRequestID(ctx, requestID)
	ctx = services.WithBookID(ctx, req.BookID)
	ctx = services.WithFormat(ctx, string(req.Format))
	ctx = services.WithChatID(ctx, req.To.ChatID)
	logger := logging.WithContext(ctx, c.logger)

	start := c.now()
	out := step(ctx, req, logger)
	out.RequestID = requestID
	elapsed := c.now().Sub(start)
	c.metrics.ObserveDelivery(string(out.Kind), string(req.Format), elapsed.Seconds())

	attrs := []logging.Attr{
		logging.String("operation", op),
		logging.String("outcome", string(out.Kind)),
		logging.Duration("elapsed", elapsed),
	}
	if out.Kind == KindFailed {
		attrs = append(attrs,
			logging.String("reason", string(out.Reason)),
			logging.Error(out.Err),
			logging.String(logging.FieldEventType, op+"_failed"),
		)
		logger.Warn("delivery failed", logging.Args(attrs...)...)
	} else {
		attrs = append(attrs,
			logging.Bool("from_cache", out.FromCache),
			logging.String(logging.FieldEventType, op+"_completed"),
		)
		logger.Info("delivery completed", logging.Args(attrs...)...)
	}
	return out
}

func (c *Coordinator) deliver(ctx context.Context, req Request, logger *slog.Logger) Outcome {
	book, bookErr := c.catalog.Book(ctx, req.BookID)

	if out, ok := c.tryCachedHandle(ctx, req, book, logger); ok {
		return out
	}
	if bookErr != nil {
		return c.failed("", bookErr)
	}

	name := fileName(book, req.Format)
	data, err := c.acquire(ctx, req)
	if err != nil {
		return c.failed(name, err)
	}

	doc := Document{BookID: req.BookID, Format: req.Format, FileName: name, Caption: book.Caption()}
	if int64(len(data)) < c.inlineThreshold {
		handle, err := c.surface.Upload(ctx, req.To, data, doc)
		if err == nil {
			c.storeHandle(ctx, req, handle, logger)
			return Outcome{Kind: KindSentInline, Handle: handle, Filename: name, Size: int64(len(data))}
		}
		logging.WarnWithContext(logger, "inline upload failed; falling back to share link", "inline_upload_failed",
			logging.Error(err),
			logging.Int("size_bytes", len(data)),
			logging.String(logging.FieldErrorHint, "the platform refused the document or was unreachable"),
			logging.String(logging.FieldImpact, "user receives a share link instead of the file"),
		)
	}
	return c.stageAndLink(ctx, req, book, name, data)
}

// tryCachedHandle resends a cached handle. A rejected handle is invalidated
// before falling through. Any other resend failure falls through without
// invalidating; the fresh upload then overwrites the entry.
func (c *Coordinator) tryCachedHandle(ctx context.Context, req Request, book *books.Book, logger *slog.Logger) (Outcome, bool) {
	handle, ok, err := c.cache.Get(ctx, req.BookID, req.Format)
	if err != nil {
		c.metrics.HandleCacheEvent("error")
		logging.WarnWithContext(logger, "handle cache lookup failed; treating as miss", "handle_cache_lookup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the handle cache backend"),
			logging.String(logging.FieldImpact, "book is downloaded again"),
		)
		return Outcome{}, false
	}
	if !ok {
		c.metrics.HandleCacheEvent("miss")
		return Outcome{}, false
	}
	c.metrics.HandleCacheEvent("hit")

	doc := Document{BookID: req.BookID, Format: req.Format}
	if book != nil {
		doc.FileName = fileName(book, req.Format)
		doc.Caption = book.Caption()
	}
	err = c.surface.Resend(ctx, req.To, handle, doc)
	if err == nil {
		return Outcome{Kind: KindSentInline, Handle: handle, FromCache: true, Filename: doc.FileName}, true
	}
	if !errors.Is(err, services.ErrDeliveryRejected) {
		logging.WarnWithContext(logger, "cached resend failed; downloading again", "handle_resend_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delivery surface unreachable"),
		)
		return Outcome{}, false
	}
	if invErr := c.cache.Invalidate(ctx, req.BookID, req.Format); invErr != nil {
		c.metrics.HandleCacheEvent("error")
		logging.WarnWithContext(logger, "failed to invalidate rejected handle", "handle_invalidate_failed",
			logging.Error(invErr),
			logging.String(logging.FieldErrorHint, "check the handle cache backend"),
			logging.String(logging.FieldImpact, "the stale handle is overwritten after a successful upload"),
		)
	} else {
		c.metrics.HandleCacheEvent("invalidated")
	}
	logger.Info("cached handle rejected; invalidated",
		logging.String(logging.FieldEventType, "handle_rejected"),
	)
	return Outcome{}, false
}

func (c *Coordinator) storeHandle(ctx context.Context, req Request, handle string, logger *slog.Logger) {
	if err := c.cache.Set(ctx, req.BookID, req.Format, handle); err != nil {
		c.metrics.HandleCacheEvent("error")
		logging.WarnWithContext(logger, "failed to cache issued handle", "handle_cache_store_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the handle cache backend"),
			logging.String(logging.FieldImpact, "next request re-downloads the book"),
		)
		return
	}
	c.metrics.HandleCacheEvent("stored")
}

// acquire downloads and unpacks the artifact. Downloads for the same book
// and format are shared between concurrent requests, and the number of
// downloads in flight is bounded.
func (c *Coordinator) acquire(ctx context.Context, req Request) ([]byte, error) {
	key := fmt.Sprintf("%d:%s", req.BookID, req.Format)
	v, err, _ := c.fetches.Do(key, func() (any, error) {
		if err := c.fetchSlots.Acquire(ctx, 1); err != nil {
			return nil, services.Wrap(services.ErrTimeout, "delivery", "acquire", "waiting for a download slot", err)
		}
		defer c.fetchSlots.Release(1)

		artifact, err := c.fetcher.Fetch(ctx, req.BookID, req.Format)
		if err != nil {
			return nil, err
		}
		if !archive.NeedsExtraction(string(req.Format)) {
			return artifact.Data, nil
		}
		member, err := c.extractor.Extract(artifact.Data, string(req.Format))
		if err != nil {
			return nil, err
		}
		return member.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Coordinator) stageAndLink(ctx context.Context, req Request, book *books.Book, name string, data []byte) Outcome {
	file, err := c.stager.Stage(ctx, name, data)
	if err != nil {
		return c.failed(name, err)
	}
	return c.sendLink(ctx, req, book, file.Name, file.Size, file.ExpiresAt)
}

func (c *Coordinator) sendLink(ctx context.Context, req Request, book *books.Book, name string, size int64, expires time.Time) Outcome {
	link := Link{
		BookID:    req.BookID,
		Format:    req.Format,
		FileName:  name,
		Caption:   book.Caption(),
		URL:       c.ShareURL(name),
		ExpiresAt: expires,
	}
	if err := c.surface.SendLink(ctx, req.To, link); err != nil {
		return c.failed(name, err)
	}
	return Outcome{
		Kind:      KindSentAsLink,
		Filename:  name,
		ShareURL:  link.URL,
		ExpiresAt: expires,
		Size:      size,
	}
}

func (c *Coordinator) refresh(ctx context.Context, req Request, logger *slog.Logger) Outcome {
	book, err := c.catalog.Book(ctx, req.BookID)
	if err != nil {
		return c.failed("", err)
	}
	name := fileName(book, req.Format)

	file, found, err := c.stager.Touch(ctx, name)
	if err != nil {
		return c.failed(name, err)
	}
	if found {
		return c.sendLink(ctx, req, book, file.Name, file.Size, file.ExpiresAt)
	}

	logger.Info("staged file already evicted; fetching again",
		logging.String("file", name),
		logging.String(logging.FieldEventType, "refresh_refetch"),
	)
	data, err := c.acquire(ctx, req)
	if err != nil {
		return c.failed(name, err)
	}
	return c.stageAndLink(ctx, req, book, name, data)
}

func (c *Coordinator) failed(name string, err error) Outcome {
	return Outcome{
		Kind:     KindFailed,
		Filename: name,
		Reason:   services.ReasonFor(err),
		Err:      err,
	}
}

// fileName returns the staged/uploaded name for book. A book whose title and
// authors normalize to nothing is named after its identifier.
func fileName(book *books.Book, format books.Format) string {
	name := book.FileName(format)
	if strings.TrimSuffix(name, "."+string(format)) == "" {
		return fmt.Sprintf("book_%d.%s", book.ID, format)
	}
	return name
}
