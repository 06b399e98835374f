package crawl

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-pages/extract"
	"github.com/aluiziolira/go-scrape-pages/models"
)

var errStopped = errors.New("crawl stopped before page was fetched")

// slot is the coordinator's view of one discovered page.
type slot struct {
	page    models.Page
	missing []extract.FieldMissing
	done    bool
}

// CrawlConcurrent fetches the start page, reads its "Page X of Y" indicator
// and fetches pages X+1 onwards on a bounded pool. Records come back in page
// order. When the page addresses cannot be derived from the start page it
// continues sequentially.
func (c *Crawler) CrawlConcurrent(ctx context.Context, start string, maxPages int) (*models.CrawlResult, error) {
	startURL, err := parseStart(start, maxPages)
	if err != nil {
		return nil, err
	}

	st := newCrawlState(startURL, maxPages)
	for st.state == StateFetching || st.state == StateExtracting {
		c.step(ctx, st, nil)
	}
	if st.state.Terminal() {
		c.logFinished(st, ModeConcurrent)
		return st.result(ModeConcurrent), nil
	}

	addresses, ok := c.discover(st)
	if !ok {
		slog.Info("page count not discoverable, continuing sequentially", slog.String("start", startURL.String()))
		c.run(ctx, st, nil)
		c.logFinished(st, ModeSequential)
		return st.result(ModeSequential), nil
	}
	st.doc = nil

	slots := c.fanOut(ctx, st.number, addresses)
	c.assemble(ctx, st, slots)
	c.logFinished(st, ModeConcurrent)
	return st.result(ModeConcurrent), nil
}

// discover builds the addresses of pages X+1..min(Y, X+maxPages-1) from the
// start page's indicator. The template must reproduce the page's own next
// link, otherwise the listing is not the one the template describes.
func (c *Crawler) discover(st *crawlState) ([]*url.URL, bool) {
	if !c.nav.CanDiscover() {
		return nil, false
	}
	current, total, ok := c.nav.Position(st.doc)
	if !ok {
		return nil, false
	}

	next, hasNext := c.nav.Next(st.doc, st.current)
	if !hasNext {
		if current < total {
			return nil, false
		}
		return nil, true
	}
	if current >= total {
		return nil, false
	}
	expected, err := c.nav.PageURL(st.current, current+1)
	if err != nil {
		return nil, false
	}
	if expected.String() != next.String() {
		slog.Debug("page template does not match next link",
			slog.String("next", next.String()),
			slog.String("template", expected.String()),
		)
		return nil, false
	}

	last := min(total, current+st.maxPages-1)
	addresses := make([]*url.URL, 0, max(last-current, 0))
	for n := current + 1; n <= last; n++ {
		u, err := c.nav.PageURL(st.current, n)
		if err != nil {
			slog.Warn("build page address", slog.Int("page", n), slog.Any("error", err))
			return nil, false
		}
		addresses = append(addresses, u)
	}
	slog.Debug("pagination discovered",
		slog.Int("current", current),
		slog.Int("total", total),
		slog.Int("fetching", len(addresses)+1),
	)
	return addresses, true
}

type indexed struct {
	index   int
	page    models.Page
	missing []extract.FieldMissing
}

// fanOut fetches every address on at most Workers goroutines. Pages are
// numbered from first+1. Once a page is issued it is always fetched, so every
// slot before the lowest failure is filled. Only the calling goroutine writes
// to the returned slots.
func (c *Crawler) fanOut(ctx context.Context, first int, addresses []*url.URL) []slot {
	slots := make([]slot, len(addresses))
	if len(addresses) == 0 {
		return slots
	}

	issueCtx, stopIssuing := context.WithCancel(ctx)
	defer stopIssuing()

	results := make(chan indexed, c.opts.Workers)
	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(c.opts.Workers)
		for i, address := range addresses {
			if c.wait(issueCtx) != nil {
				break
			}
			g.Go(func() error {
				page, missing := c.visit(ctx, first+i+1, address)
				results <- indexed{index: i, page: page, missing: missing}
				return nil
			})
		}
		_ = g.Wait()
	}()

	for res := range results {
		slots[res.index] = slot{page: res.page, missing: res.missing, done: true}
		if res.page.Err != nil && !c.opts.TolerateFailures {
			stopIssuing()
		}
	}
	return slots
}

func (c *Crawler) visit(ctx context.Context, number int, address *url.URL) (models.Page, []extract.FieldMissing) {
	page := models.Page{Number: number, URL: address.String()}
	doc, err := c.load(ctx, address)
	if err != nil {
		page.Err = err
		return page, nil
	}
	records, missing := c.extractor.ExtractDetailed(doc)
	page.Records = records
	page.MissingFields = len(missing)
	return page, missing
}

// assemble folds the slots into st in page order.
func (c *Crawler) assemble(ctx context.Context, st *crawlState, slots []slot) {
	for i, s := range slots {
		switch {
		case !s.done:
			st.state = StateFailed
			st.err = ctx.Err()
			if st.err == nil {
				st.err = errStopped
			}
			c.discard(slots[i+1:])
			return

		case s.page.Err != nil:
			if ctx.Err() != nil && errors.Is(s.page.Err, ctx.Err()) {
				st.state = StateFailed
				st.err = s.page.Err
				c.discard(slots[i+1:])
				return
			}
			st.addFailure(s.page.URL, s.page.Err)
			c.opts.Metrics.IncPage("failed")
			slog.Error("page fetch failed",
				slog.Int("page", s.page.Number),
				slog.String("url", s.page.URL),
				slog.String("category", FailureLabel(s.page.Err)),
				slog.Any("error", s.page.Err),
			)
			if !c.opts.TolerateFailures {
				st.state = StateFailed
				st.err = s.page.Err
				c.discard(slots[i+1:])
				return
			}

		default:
			st.addPage(s.page.Records, len(s.missing))
			c.observePage(s.page.Number, s.page.URL, len(s.page.Records), s.missing)
		}
	}
	st.state = StateDone
}

func (c *Crawler) discard(rest []slot) {
	for _, s := range rest {
		if s.done && s.page.Err == nil {
			c.opts.Metrics.IncPage("discarded")
		}
	}
}
