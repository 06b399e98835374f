package crawl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-pages/scraper"
)

func TestCrawlConcurrentKeepsPageOrder(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 6, 3, true)
	rng := rand.New(rand.NewSource(7))
	for n := 2; n <= 6; n++ {
		f.delays[pageAddress(n)] = time.Duration(rng.Intn(15)+1) * time.Millisecond
	}
	// later pages finish first
	f.delays[pageAddress(2)] = 30 * time.Millisecond

	c := newTestCrawler(t, f, Options{Workers: 4})
	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 50)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.Mode != ModeConcurrent || res.FinalState != "done" {
		t.Fatalf("mode=%s state=%s", res.Mode, res.FinalState)
	}
	if res.PagesVisited != 6 || res.PagesFailed != 0 {
		t.Fatalf("visited=%d failed=%d", res.PagesVisited, res.PagesFailed)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2, 3, 4, 5, 6}, 3))

	seq, err := newTestCrawler(t, f, Options{}).Crawl(context.Background(), pageAddress(1), 50)
	if err != nil {
		t.Fatalf("sequential crawl: %v", err)
	}
	if len(seq.Records) != len(res.Records) {
		t.Fatalf("record counts differ: %d vs %d", len(seq.Records), len(res.Records))
	}
	for i := range seq.Records {
		if !seq.Records[i].Equal(res.Records[i]) {
			t.Fatalf("record %d differs between sequential and concurrent crawls", i)
		}
	}
}

func TestCrawlConcurrentRespectsPageLimit(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 6, 1, true)
	c := newTestCrawler(t, f, Options{Workers: 3})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 4)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.PagesVisited != 4 {
		t.Fatalf("visited = %d, want 4", res.PagesVisited)
	}
	if f.fetched(pageAddress(5)) || f.fetched(pageAddress(6)) {
		t.Fatalf("pages beyond the limit were fetched")
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2, 3, 4}, 1))
}

func TestCrawlConcurrentSinglePage(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 1, 2, true)
	c := newTestCrawler(t, f, Options{Workers: 3})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.PagesVisited != 1 || res.FinalState != "done" || len(res.Records) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCrawlConcurrentFallsBackWithoutIndicator(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 3, 2, false)
	c := newTestCrawler(t, f, Options{Workers: 4})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.Mode != ModeSequential {
		t.Fatalf("mode = %s, want sequential fallback", res.Mode)
	}
	if res.PagesVisited != 3 {
		t.Fatalf("visited = %d, want 3", res.PagesVisited)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2, 3}, 2))
	if f.callCount() != 3 {
		t.Fatalf("fetches = %d, want 3", f.callCount())
	}
}

func TestCrawlConcurrentStopsAtLowestFailure(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 5, 1, true)
	f.fail[pageAddress(3)] = scraper.ErrServer{Code: 503, Err: errors.New("unavailable")}
	c := newTestCrawler(t, f, Options{Workers: 1})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.FinalState != "failed" {
		t.Fatalf("final state = %s, want failed", res.FinalState)
	}
	if res.PagesVisited != 2 || res.PagesFailed != 1 {
		t.Fatalf("visited=%d failed=%d, want 2 and 1", res.PagesVisited, res.PagesFailed)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2}, 1))
	if len(res.FailedURLs) != 1 || res.FailedURLs[0] != pageAddress(3) {
		t.Fatalf("failed urls = %v", res.FailedURLs)
	}
}

func TestCrawlConcurrentDiscardsPagesAfterFailure(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 5, 1, true)
	f.fail[pageAddress(2)] = scraper.ErrNotFound{Err: errors.New("gone")}
	f.delays[pageAddress(2)] = 20 * time.Millisecond
	c := newTestCrawler(t, f, Options{Workers: 4})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.FinalState != "failed" || res.PagesVisited != 1 || res.PagesFailed != 1 {
		t.Fatalf("state=%s visited=%d failed=%d", res.FinalState, res.PagesVisited, res.PagesFailed)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1}, 1))
}

func TestCrawlConcurrentToleratesFailures(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 5, 2, true)
	f.fail[pageAddress(3)] = scraper.ErrTimeout{Err: context.DeadlineExceeded}
	c := newTestCrawler(t, f, Options{Workers: 2, TolerateFailures: true})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.FinalState != "done" {
		t.Fatalf("final state = %s, want done", res.FinalState)
	}
	if res.PagesVisited != 4 || res.PagesFailed != 1 {
		t.Fatalf("visited=%d failed=%d, want 4 and 1", res.PagesVisited, res.PagesFailed)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2, 4, 5}, 2))
	if res.ErrorsByType["timeout"] != 1 {
		t.Fatalf("errors by type = %v", res.ErrorsByType)
	}
	if len(res.FailedURLs) != 1 || res.FailedURLs[0] != pageAddress(3) {
		t.Fatalf("failed urls = %v", res.FailedURLs)
	}
}

func TestCrawlConcurrentFirstPageFailure(t *testing.T) {
	f := newFakeFetcher()
	c := newTestCrawler(t, f, Options{Workers: 4})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.FinalState != "failed" || res.PagesFailed != 1 || len(res.Records) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCrawlConcurrentCanceledMidway(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 4, 1, true)
	for n := 2; n <= 4; n++ {
		f.delays[pageAddress(n)] = time.Second
	}
	c := newTestCrawler(t, f, Options{Workers: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	res, err := c.CrawlConcurrent(ctx, pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if time.Since(started) > 500*time.Millisecond {
		t.Fatalf("crawl did not stop promptly after cancellation")
	}
	if res.FinalState != "failed" || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("state=%s err=%v", res.FinalState, res.Err)
	}
	if res.PagesVisited != 1 || res.PagesFailed != 0 {
		t.Fatalf("visited=%d failed=%d, want 1 and 0", res.PagesVisited, res.PagesFailed)
	}
}

func TestCrawlConcurrentStartsMidListing(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 5, 1, true)

	seq, err := newTestCrawler(t, f, Options{}).Crawl(context.Background(), pageAddress(3), 10)
	if err != nil {
		t.Fatalf("sequential crawl: %v", err)
	}

	f = newFakeFetcher()
	addCatalog(f, 5, 1, true)
	c := newTestCrawler(t, f, Options{Workers: 3})
	res, err := c.CrawlConcurrent(context.Background(), pageAddress(3), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.Mode != ModeConcurrent || res.PagesVisited != seq.PagesVisited {
		t.Fatalf("mode=%s visited=%d, want concurrent and %d", res.Mode, res.PagesVisited, seq.PagesVisited)
	}
	assertTitles(t, res.Records, expectedTitles([]int{3, 4, 5}, 1))
	if f.fetched(pageAddress(1)) || f.fetched(pageAddress(2)) {
		t.Fatal("pages before the start page were fetched")
	}
	if f.callCount() != 3 {
		t.Fatalf("fetches = %d, want 3", f.callCount())
	}
}

func TestCrawlConcurrentMidListingPageLimit(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 8, 1, true)
	c := newTestCrawler(t, f, Options{Workers: 4})

	res, err := c.CrawlConcurrent(context.Background(), pageAddress(2), 3)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	assertTitles(t, res.Records, expectedTitles([]int{2, 3, 4}, 1))
	if f.fetched(pageAddress(5)) {
		t.Fatal("page beyond the limit was fetched")
	}
}

func TestCrawlConcurrentFallsBackWhenTemplateMismatches(t *testing.T) {
	f := newFakeFetcher()
	addCatalog(f, 5, 1, true)
	// a sub-listing whose pages live outside the template's path
	sub := func(n int) string { return fmt.Sprintf("%s/category/mystery/page-%d.html", testHost, n) }
	for n := 1; n <= 3; n++ {
		next := ""
		if n < 3 {
			next = fmt.Sprintf("page-%d.html", n+1)
		}
		f.pages[sub(n)] = buildCatalogPage(n, 3, pageItems(n+10, 1), next, true)
	}
	c := newTestCrawler(t, f, Options{Workers: 4})

	res, err := c.CrawlConcurrent(context.Background(), sub(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.Mode != ModeSequential {
		t.Fatalf("mode = %s, want sequential fallback", res.Mode)
	}
	assertTitles(t, res.Records, expectedTitles([]int{11, 12, 13}, 1))
	for n := 2; n <= 5; n++ {
		if f.fetched(pageAddress(n)) {
			t.Fatalf("fetched %s from the wrong listing", pageAddress(n))
		}
	}
}

func TestCrawlConcurrentKeepsPagesBeforeFailure(t *testing.T) {
	for run := 0; run < 50; run++ {
		f := newFakeFetcher()
		addCatalog(f, 12, 1, true)
		f.fail[pageAddress(9)] = scraper.ErrServer{Code: 500, Err: errors.New("boom")}
		for n := 2; n <= 8; n++ {
			f.delays[pageAddress(n)] = time.Duration(n%3) * time.Millisecond
		}
		c := newTestCrawler(t, f, Options{Workers: 8})

		res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 20)
		if err != nil {
			t.Fatalf("crawl: %v", err)
		}
		if res.FinalState != "failed" || res.PagesVisited != 8 || res.PagesFailed != 1 {
			t.Fatalf("run %d: state=%s visited=%d failed=%d err=%v",
				run, res.FinalState, res.PagesVisited, res.PagesFailed, res.Err)
		}
		if errors.Is(res.Err, errStopped) {
			t.Fatalf("run %d: err = %v, want the page failure", run, res.Err)
		}
		assertTitles(t, res.Records, expectedTitles([]int{1, 2, 3, 4, 5, 6, 7, 8}, 1))
	}
}
