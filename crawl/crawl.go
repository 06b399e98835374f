// Package crawl drives extraction across a paginated listing, either one
// page at a time or through a bounded pool of concurrent fetches.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-pages/extract"
	"github.com/aluiziolira/go-scrape-pages/models"
	"github.com/aluiziolira/go-scrape-pages/paginate"
	"github.com/aluiziolira/go-scrape-pages/scraper"
)

// Modes reported in CrawlResult.Mode.
const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

// Fetcher retrieves the body of one page address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) models.FetchResult
}

// ParseFunc turns a fetched body into a document.
type ParseFunc func(body []byte, contentType string, pageURL *url.URL) (*goquery.Document, error)

// Options tune a Crawler.
type Options struct {
	// Workers bounds concurrent fetches in CrawlConcurrent.
	Workers int
	// MinInterval is the minimum spacing between fetch starts.
	MinInterval time.Duration
	// TolerateFailures lets a concurrent crawl skip failed pages instead of
	// stopping at the first one.
	TolerateFailures bool
	Metrics          *scraper.Metrics
	Parse            ParseFunc
}

// Crawler runs crawls. A Crawler holds no per-crawl state and may run
// several crawls at once.
type Crawler struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	nav       *paginate.Navigator
	opts      Options
	limiter   *rate.Limiter
}

// New builds a crawler from its collaborators.
func New(fetcher Fetcher, extractor *extract.Extractor, nav *paginate.Navigator, opts Options) *Crawler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Parse == nil {
		opts.Parse = extract.Parse
	}

	c := &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		nav:       nav,
		opts:      opts,
	}
	if opts.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return c
}

// Crawl follows next page links from start until there is none, maxPages
// pages were visited, or a page fails. Page failures are reported in the
// result; the error is only for invalid arguments.
func (c *Crawler) Crawl(ctx context.Context, start string, maxPages int) (*models.CrawlResult, error) {
	startURL, err := parseStart(start, maxPages)
	if err != nil {
		return nil, err
	}

	st := newCrawlState(startURL, maxPages)
	c.run(ctx, st, nil)
	c.logFinished(st, ModeSequential)
	return st.result(ModeSequential), nil
}

// Pages yields every visited or failed page in order. Each iteration runs
// a fresh crawl; breaking out of the loop stops issuing fetches.
func (c *Crawler) Pages(ctx context.Context, start string, maxPages int) iter.Seq[models.Page] {
	return func(yield func(models.Page) bool) {
		startURL, err := parseStart(start, maxPages)
		if err != nil {
			yield(models.Page{Number: 1, URL: start, Err: err})
			return
		}
		st := newCrawlState(startURL, maxPages)
		st.keepRecords = false
		c.run(ctx, st, yield)
	}
}

// CrawlEach runs a sequential crawl and hands every visited or failed page
// to fn as soon as it is extracted. Returning false from fn ends the crawl
// in the done state. The result carries the counters of the pages handed
// out; its Records are left empty.
func (c *Crawler) CrawlEach(ctx context.Context, start string, maxPages int, fn func(models.Page) bool) (*models.CrawlResult, error) {
	startURL, err := parseStart(start, maxPages)
	if err != nil {
		return nil, err
	}

	st := newCrawlState(startURL, maxPages)
	st.keepRecords = false
	c.run(ctx, st, fn)
	c.logFinished(st, ModeSequential)
	return st.result(ModeSequential), nil
}

// Records yields the records of every visited page in order.
func (c *Crawler) Records(ctx context.Context, start string, maxPages int) iter.Seq[models.Record] {
	return func(yield func(models.Record) bool) {
		for page := range c.Pages(ctx, start, maxPages) {
			for _, r := range page.Records {
				if !yield(r) {
					return
				}
			}
		}
	}
}

func (c *Crawler) run(ctx context.Context, st *crawlState, emit func(models.Page) bool) {
	for !st.state.Terminal() {
		c.step(ctx, st, emit)
	}
}

// step performs exactly one state transition.
func (c *Crawler) step(ctx context.Context, st *crawlState, emit func(models.Page) bool) {
	switch st.state {
	case StateFetching:
		if err := c.wait(ctx); err != nil {
			st.err = err
			st.state = StateFailed
			return
		}
		doc, err := c.load(ctx, st.current)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				st.err = err
				st.state = StateFailed
				return
			}
			st.addFailure(st.current.String(), err)
			st.err = err
			st.state = StateFailed
			c.opts.Metrics.IncPage("failed")
			slog.Error("page fetch failed",
				slog.Int("page", st.number),
				slog.String("url", st.current.String()),
				slog.String("category", FailureLabel(err)),
				slog.Any("error", err),
			)
			if emit != nil {
				emit(models.Page{Number: st.number, URL: st.current.String(), Err: err})
			}
			return
		}
		st.doc = doc
		st.state = StateExtracting

	case StateExtracting:
		records, missing := c.extractor.ExtractDetailed(st.doc)
		st.addPage(records, len(missing))
		c.observePage(st.number, st.current.String(), len(records), missing)
		st.state = StateNavigating
		page := models.Page{Number: st.number, URL: st.current.String(), Records: records, MissingFields: len(missing)}
		if emit != nil && !emit(page) {
			st.state = StateDone
		}

	case StateNavigating:
		st.state = c.navigate(st)
		st.doc = nil
	}
}

func (c *Crawler) navigate(st *crawlState) State {
	if n := c.nav.Candidates(st.doc); n > 1 {
		c.opts.Metrics.IncNavigationAmbiguous()
		slog.Warn("several next page links, following the first",
			slog.Int("page", st.number),
			slog.Int("candidates", n),
		)
	}

	next, ok := c.nav.Next(st.doc, st.current)
	if !ok {
		return StateDone
	}
	if st.visited >= st.maxPages {
		slog.Debug("page limit reached", slog.Int("max_pages", st.maxPages), slog.String("next", next.String()))
		return StateDone
	}
	key := next.String()
	if _, dup := st.seen[key]; dup {
		slog.Warn("pagination cycle detected", slog.Int("page", st.number), slog.String("next", key))
		return StateDone
	}
	st.seen[key] = struct{}{}
	st.current = next
	st.number++
	return StateFetching
}

// load fetches and parses one address.
func (c *Crawler) load(ctx context.Context, address *url.URL) (*goquery.Document, error) {
	c.opts.Metrics.TrackInflight(1)
	res := c.fetcher.Fetch(ctx, address.String())
	c.opts.Metrics.TrackInflight(-1)
	if !res.OK() {
		return nil, res.Err
	}
	return c.opts.Parse(res.Body, res.ContentType, address)
}

func (c *Crawler) observePage(number int, address string, records int, missing []extract.FieldMissing) {
	c.opts.Metrics.IncPage("visited")
	c.opts.Metrics.AddRecords(records)
	c.opts.Metrics.AddMissingFields(len(missing))
	for _, m := range missing {
		slog.Debug("field missing", slog.Int("page", number), slog.Int("record", m.Record), slog.String("field", m.Field), slog.String("reason", m.Reason))
	}
	slog.Debug("page extracted", slog.Int("page", number), slog.String("url", address), slog.Int("records", records))
}

func (c *Crawler) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Crawler) logFinished(st *crawlState, mode string) {
	slog.Info("crawl finished",
		slog.String("mode", mode),
		slog.String("state", st.state.String()),
		slog.Int("pages", st.visited),
		slog.Int("failed", st.failed),
		slog.Int("records", st.extracted),
		slog.Duration("duration", time.Since(st.start)),
	)
}

func parseStart(start string, maxPages int) (*url.URL, error) {
	if maxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive, got %d", maxPages)
	}
	u, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("parse start address: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("start address %q must be absolute", start)
	}
	return u, nil
}
