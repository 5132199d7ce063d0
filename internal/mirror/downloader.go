package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"bookdrop/internal/books"
	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/metrics"
	"bookdrop/internal/services"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 512 << 20
	sniffLength     = 512
	userAgent       = "bookdrop/1.0"
)

// Endpoint is one upstream mirror. Endpoints are attempted in slice order.
// Timeout bounds connecting, waiting for response headers, and any stall
// between body reads; a slow but steady transfer may take longer overall.
type Endpoint struct {
	Name    string
	BaseURL string
	Proxy   string
	Timeout time.Duration
}

// Artifact is a successfully downloaded upstream payload.
type Artifact struct {
	Data        []byte
	ContentType string
	Mirror      string
	URL         string
}

// Fetcher retrieves raw artifact bytes for a book.
type Fetcher interface {
	Fetch(ctx context.Context, bookID int64, format books.Format) (*Artifact, error)
}

type endpointClient struct {
	Endpoint
	client *http.Client
}

// Downloader fetches artifacts with ordered mirror failover.
type Downloader struct {
	endpoints []endpointClient
	logger    *slog.Logger
	metrics   *metrics.Metrics
	maxBytes  int64
}

var _ Fetcher = (*Downloader)(nil)

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics enables attempt counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Downloader) { d.metrics = m }
}

// WithMaxBytes caps the accepted response body size.
func WithMaxBytes(limit int64) Option {
	return func(d *Downloader) {
		if limit > 0 {
			d.maxBytes = limit
		}
	}
}

// WithTransport replaces the base transport of every endpoint client. Proxy
// settings are still applied per endpoint when the transport is an
// *http.Transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *Downloader) {
		for i := range d.endpoints {
			d.endpoints[i].client.Transport = withProxy(rt, d.endpoints[i].Proxy)
		}
	}
}

// New builds a Downloader. Each endpoint gets its own HTTP client so proxy
// and timeout settings never leak between mirrors.
func New(endpoints []Endpoint, opts ...Option) (*Downloader, error) {
	if len(endpoints) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "mirror", "init", "at least one mirror is required", nil)
	}
	d := &Downloader{
		logger:   logging.NewNop(),
		maxBytes: defaultMaxBytes,
	}
	for i, ep := range endpoints {
		ep.BaseURL = strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
		if ep.BaseURL == "" {
			return nil, services.Wrap(services.ErrConfiguration, "mirror", "init", fmt.Sprintf("mirror %d has no base url", i), nil)
		}
		if ep.Name == "" {
			ep.Name = "mirror-" + strconv.Itoa(i)
		}
		if ep.Timeout <= 0 {
			ep.Timeout = defaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: ep.Timeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = ep.Timeout
		transport.ResponseHeaderTimeout = ep.Timeout
		if ep.Proxy != "" {
			proxyURL, err := url.Parse(ep.Proxy)
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "mirror", "init", "invalid proxy for "+ep.Name, err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			transport.Proxy = nil
		}
		d.endpoints = append(d.endpoints, endpointClient{
			Endpoint: ep,
			client:   &http.Client{Transport: transport},
		})
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "mirror")
	return d, nil
}

// NewFromConfig builds a Downloader from the configured mirror list.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Downloader, error) {
	endpoints := make([]Endpoint, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		endpoints = append(endpoints, Endpoint{
			Name:    m.Name,
			BaseURL: m.BaseURL,
			Proxy:   m.Proxy,
			Timeout: m.Timeout(),
		})
	}
	opts = append([]Option{WithMaxBytes(cfg.Delivery.MaxArtifactBytes)}, opts...)
	return New(endpoints, opts...)
}

// Endpoints returns the configured mirrors in attempt order.
func (d *Downloader) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep.Endpoint)
	}
	return out
}

// Ping issues a HEAD request against the named mirror's base URL through
// the mirror's own client. Any HTTP response counts as reachable.
func (d *Downloader) Ping(ctx context.Context, name string) error {
	for _, ep := range d.endpoints {
		if ep.Name != name {
			continue
		}
		ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, ep.BaseURL+"/", nil)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "mirror", "ping", ep.Name, err)
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := ep.client.Do(req)
		if err != nil {
			marker := services.ErrTransientNetwork
			if errors.Is(err, context.DeadlineExceeded) {
				marker = services.ErrTimeout
			}
			return services.Wrap(marker, "mirror", "ping", ep.Name, err)
		}
		_ = resp.Body.Close()
		return nil
	}
	return services.Wrap(services.ErrNotFound, "mirror", "ping", "unknown mirror "+name, nil)
}

// URLFor builds the download URL for a book on the given mirror base.
func URLFor(baseURL string, bookID int64, format books.Format) string {
	segment := "download"
	if format.ServedDirectly() {
		segment = string(format)
	}
	return fmt.Sprintf("%s/b/%d/%s", strings.TrimRight(baseURL, "/"), bookID, segment)
}

// attemptError records why one mirror did not yield an artifact.
type attemptError struct {
	mirror   string
	result   string
	notFound bool
	err      error
}

func (e *attemptError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.mirror, e.result, e.err)
	}
	return fmt.Sprintf("%s: %s", e.mirror, e.result)
}

func (e *attemptError) Unwrap() error { return e.err }

// Fetch tries each mirror in order and returns the first binary, non-HTML
// 200 response. When every mirror answered 404 the book is reported as not
// found; any other exhaustion is a transient network failure.
func (d *Downloader) Fetch(ctx context.Context, bookID int64, format books.Format) (*Artifact, error) {
	logger := logging.WithContext(ctx, d.logger)
	failures := make([]error, 0, len(d.endpoints))
	allNotFound := true

	for i, ep := range d.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrTransientNetwork, "mirror", "fetch", "request cancelled", err)
		}
		target := URLFor(ep.BaseURL, bookID, format)
		started := time.Now()
		artifact, attemptErr := d.attempt(ctx, ep, target)
		if attemptErr == nil {
			d.metrics.MirrorAttempt(ep.Name, "ok")
			logger.Info("mirror fetch succeeded",
				logging.String("mirror", ep.Name),
				logging.Int("attempt", i+1),
				logging.Int("size_bytes", len(artifact.Data)),
				logging.String("content_type", artifact.ContentType),
				logging.Duration("elapsed", time.Since(started)),
				logging.String(logging.FieldEventType, "mirror_fetch_ok"),
			)
			return artifact, nil
		}
		d.metrics.MirrorAttempt(ep.Name, attemptErr.result)
		if !attemptErr.notFound {
			allNotFound = false
		}
		failures = append(failures, attemptErr)
		logging.WarnWithContext(logger, "mirror fetch failed; trying next mirror", "mirror_fetch_failed",
			logging.String("mirror", ep.Name),
			logging.String("url", target),
			logging.String("result", attemptErr.result),
			logging.Error(attemptErr),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldErrorHint, "check mirror reachability and proxy settings"),
			logging.String(logging.FieldImpact, "delivery falls back to the next mirror"),
		)
	}

	joined := errors.Join(failures...)
	if allNotFound {
		return nil, services.Wrap(services.ErrNotFound, "mirror", "fetch",
			fmt.Sprintf("book %d (%s) not found on any mirror", bookID, format), joined)
	}
	return nil, services.Wrap(services.ErrTransientNetwork, "mirror", "fetch",
		fmt.Sprintf("all %d mirrors failed for book %d (%s)", len(d.endpoints), bookID, format), joined)
}

func (d *Downloader) attempt(ctx context.Context, ep endpointClient, target string) (*Artifact, *attemptError) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := startWatchdog(ep.Timeout, cancel)
	defer watchdog.stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &attemptError{mirror: ep.Name, result: "bad_request", err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := ep.client.Do(req)
	if err != nil {
		result := "connect_error"
		if watchdog.fired() || isTimeout(err) {
			result = "timeout"
		}
		return nil, &attemptError{mirror: ep.Name, result: result, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &attemptError{mirror: ep.Name, result: "not_found", notFound: true}
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &attemptError{mirror: ep.Name, result: "status_" + strconv.Itoa(resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTMLContentType(contentType) {
		return nil, &attemptError{mirror: ep.Name, result: "html", err: fmt.Errorf("content type %q", contentType)}
	}

	watchdog.kick()
	body, err := io.ReadAll(io.LimitReader(progressReader{r: resp.Body, w: watchdog}, d.maxBytes+1))
	if err != nil {
		result := "read_error"
		if watchdog.fired() {
			result = "stalled"
			err = fmt.Errorf("no data for %s: %w", ep.Timeout, err)
		}
		return nil, &attemptError{mirror: ep.Name, result: result, err: err}
	}
	if int64(len(body)) > d.maxBytes {
		return nil, &attemptError{mirror: ep.Name, result: "too_large", err: fmt.Errorf("body exceeds %d bytes", d.maxBytes)}
	}
	if len(body) == 0 {
		return nil, &attemptError{mirror: ep.Name, result: "empty"}
	}
	if looksLikeHTML(body) {
		return nil, &attemptError{mirror: ep.Name, result: "html", err: errors.New("body is an html page")}
	}

	return &Artifact{Data: body, ContentType: contentType, Mirror: ep.Name, URL: target}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// idleWatchdog cancels an attempt once no progress was made for timeout.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func startWatchdog(timeout time.Duration, cancel context.CancelFunc) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.expired.Store(true)
		cancel()
	})
	return w
}

func (w *idleWatchdog) kick() {
	if !w.expired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) stop() { w.timer.Stop() }

func (w *idleWatchdog) fired() bool { return w.expired.Load() }

// progressReader resets the watchdog whenever the body yields data.
type progressReader struct {
	r io.Reader
	w *idleWatchdog
}

func (p progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.w.kick()
	}
	return n, err
}

func isHTMLContentType(value string) bool {
	if value == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.Contains(strings.ToLower(value), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// looksLikeHTML catches error pages served with a binary content type.
func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	head = bytes.ToLower(bytes.TrimLeft(head, " \t\r\n\ufeff"))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func withProxy(rt http.RoundTripper, proxy string) http.RoundTripper {
	transport, ok := rt.(*http.Transport)
	if !ok || proxy == "" {
		return rt
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return rt
	}
	clone := transport.Clone()
	clone.Proxy = http.ProxyURL(proxyURL)
	return clone
}
