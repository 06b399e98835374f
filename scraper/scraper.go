// Package scraper fetches pages through a colly collector and classifies
// failures into typed errors.
package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-pages/config"
	"github.com/aluiziolira/go-scrape-pages/models"
)

const (
	ctxKeyStart       = "start"
	ctxKeyBody        = "body"
	ctxKeyStatus      = "status"
	ctxKeyContentType = "content_type"
)

// Fetcher issues GET requests for page addresses. It is safe for
// concurrent use; colly's limit rule bounds parallelism per domain.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics

	requestCount int64
	retryCount   int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// Stats is a snapshot of the fetcher counters.
type Stats struct {
	Requests     int
	Retries      int
	Errors       int
	ErrorsByType map[string]int
}

// NewFetcher builds a fetcher restricted to the host of cfg.StartURL.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("start url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Workers,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Workers,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		cfg:          cfg,
		collector:    collector,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	f.registerHandlers()
	return f, nil
}

// WithTransport replaces the HTTP transport used by the collector.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch retrieves address, retrying retryable failures with capped
// exponential backoff. The returned result carries either a body or a
// classified error. ctx is checked before each attempt and during backoff;
// a request already in flight is not interrupted and runs until it
// completes or cfg.Timeout expires.
func (f *Fetcher) Fetch(ctx context.Context, address string) models.FetchResult {
	if ctx == nil {
		ctx = context.Background()
	}

	attempt := 0
	for {
		res := f.fetchOnce(ctx, address)
		if res.Err == nil {
			return res
		}

		category := ErrorTypeLabel(res.Err)
		atomic.AddInt64(&f.errorCount, 1)
		f.mu.Lock()
		f.errorsByType[category]++
		f.mu.Unlock()
		f.Metrics.IncError(category)

		if attempt >= f.cfg.MaxRetries || !Retryable(res.Err) || ctx.Err() != nil {
			return res
		}

		attempt++
		atomic.AddInt64(&f.retryCount, 1)
		f.Metrics.IncRetries()
		delay := f.backoff(attempt)
		slog.Debug("retrying page fetch",
			slog.String("url", address),
			slog.String("category", category),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			return res
		}
	}
}

// Stats returns a copy of the fetcher counters.
func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	byType := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		byType[k] = v
	}
	f.mu.Unlock()

	return Stats{
		Requests:     int(atomic.LoadInt64(&f.requestCount)),
		Retries:      int(atomic.LoadInt64(&f.retryCount)),
		Errors:       int(atomic.LoadInt64(&f.errorCount)),
		ErrorsByType: byType,
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, address string) models.FetchResult {
	if err := ctx.Err(); err != nil {
		return models.FetchResult{URL: address, Err: classifyError(err, 0)}
	}

	cctx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, address, nil, cctx, nil)
	status, _ := cctx.GetAny(ctxKeyStatus).(int)

	res := models.FetchResult{URL: address, StatusCode: status}
	if err != nil {
		res.Err = classifyError(err, status)
		return res
	}

	res.Body, _ = cctx.GetAny(ctxKeyBody).([]byte)
	res.ContentType, _ = cctx.GetAny(ctxKeyContentType).(string)
	return res
}

func (f *Fetcher) registerHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxKeyStart, time.Now())
		current := atomic.AddInt64(&f.requestCount, 1)
		f.Metrics.IncRequest("started")
		if current%50 == 0 {
			slog.Debug("fetch request progress",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		}
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
		if r.Headers != nil {
			r.Ctx.Put(ctxKeyContentType, r.Headers.Get("Content-Type"))
		}
		f.Metrics.IncRequest("completed")
		if start, ok := r.Ctx.GetAny(ctxKeyStart).(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		f.Metrics.IncRequest("failed")
		if start, ok := r.Ctx.GetAny(ctxKeyStart).(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
	})
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if statusCode > http.StatusAccepted {
		return statusError(statusCode, err)
	}

	if errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrForbiddenURL) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return ErrBlocked{Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}

	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	if errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) {
		return ErrTLS{Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if err == nil {
		return nil
	}
	return err
}
