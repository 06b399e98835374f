package crawl

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-pages/config"
	"github.com/aluiziolira/go-scrape-pages/scraper"
)

func newMockedFetcher(t *testing.T) (*scraper.Fetcher, *httpmock.MockTransport, *scraper.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StartURL = pageAddress(1)
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	cfg.Workers = 3

	metrics := scraper.NewMetrics()
	f, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	return f, transport, metrics
}

func registerCatalog(transport *httpmock.MockTransport, total, perPage int, indicator bool) {
	for n := 1; n <= total; n++ {
		next := ""
		if n < total {
			next = "page-" + strconv.Itoa(n+1) + ".html"
		}
		resp := httpmock.NewStringResponse(200, buildCatalogPage(n, total, pageItems(n, perPage), next, indicator))
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		transport.RegisterResponder("GET", pageAddress(n), httpmock.ResponderFromResponse(resp))
	}
}

// counterValue reads a counter from the registry, matching label value
// outcome when it is set.
func counterValue(t *testing.T, metrics *scraper.Metrics, name, outcome string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if outcome == "" {
				return m.GetCounter().GetValue()
			}
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCrawlWithCollyFetcher(t *testing.T) {
	f, transport, metrics := newMockedFetcher(t)
	registerCatalog(transport, 3, 2, false)

	c := newTestCrawler(t, f, Options{Metrics: metrics})
	res, err := c.Crawl(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.FinalState != "done" || res.PagesVisited != 3 {
		t.Fatalf("state=%s visited=%d err=%v", res.FinalState, res.PagesVisited, res.Err)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2, 3}, 2))

	if got := counterValue(t, metrics, "crawl_pages_total", "visited"); got != 3 {
		t.Fatalf("visited pages metric = %v, want 3", got)
	}
	if got := counterValue(t, metrics, "crawl_records_extracted_total", ""); got != 6 {
		t.Fatalf("records metric = %v, want 6", got)
	}
}

func TestCrawlConcurrentWithCollyFetcher(t *testing.T) {
	f, transport, metrics := newMockedFetcher(t)
	registerCatalog(transport, 5, 2, true)

	c := newTestCrawler(t, f, Options{Workers: 3, Metrics: metrics})
	res, err := c.CrawlConcurrent(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.Mode != ModeConcurrent || res.FinalState != "done" {
		t.Fatalf("mode=%s state=%s err=%v", res.Mode, res.FinalState, res.Err)
	}
	assertTitles(t, res.Records, expectedTitles([]int{1, 2, 3, 4, 5}, 2))
	if transport.GetTotalCallCount() != 5 {
		t.Fatalf("calls = %d, want 5", transport.GetTotalCallCount())
	}
}

func TestCrawlWithCollyFetcherStopsOnNotFound(t *testing.T) {
	f, transport, _ := newMockedFetcher(t)
	resp := httpmock.NewStringResponse(200, buildCatalogPage(1, 2, pageItems(1, 2), "page-2.html", false))
	resp.Header.Set("Content-Type", "text/html")
	transport.RegisterResponder("GET", pageAddress(1), httpmock.ResponderFromResponse(resp))
	transport.RegisterResponder("GET", pageAddress(2), httpmock.NewStringResponder(404, "missing"))

	c := newTestCrawler(t, f, Options{})
	res, err := c.Crawl(context.Background(), pageAddress(1), 10)
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if res.FinalState != "failed" || res.PagesVisited != 1 || res.PagesFailed != 1 {
		t.Fatalf("state=%s visited=%d failed=%d", res.FinalState, res.PagesVisited, res.PagesFailed)
	}
	if res.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors by type = %v", res.ErrorsByType)
	}
	// 404 is not retried
	if transport.GetTotalCallCount() != 2 {
		t.Fatalf("calls = %d, want 2", transport.GetTotalCallCount())
	}
}
