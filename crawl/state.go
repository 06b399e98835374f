package crawl

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-pages/extract"
	"github.com/aluiziolira/go-scrape-pages/models"
	"github.com/aluiziolira/go-scrape-pages/scraper"
)

// State is a step of the crawl loop.
type State int

const (
	StateFetching State = iota
	StateExtracting
	StateNavigating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateNavigating:
		return "navigating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// crawlState is owned by exactly one crawl invocation.
type crawlState struct {
	state    State
	maxPages int
	number   int
	current  *url.URL
	doc      *goquery.Document
	seen     map[string]struct{}

	records      []models.Record
	keepRecords  bool
	visited      int
	extracted    int
	failed       int
	missing      int
	failedURLs   []string
	errorsByType map[string]int
	err          error
	start        time.Time
}

func newCrawlState(start *url.URL, maxPages int) *crawlState {
	return &crawlState{
		state:        StateFetching,
		maxPages:     maxPages,
		number:       1,
		current:      start,
		seen:         map[string]struct{}{start.String(): {}},
		keepRecords:  true,
		errorsByType: make(map[string]int),
		start:        time.Now(),
	}
}

func (st *crawlState) addPage(records []models.Record, missing int) {
	if st.keepRecords {
		st.records = append(st.records, records...)
	}
	st.extracted += len(records)
	st.visited++
	st.missing += missing
}

func (st *crawlState) addFailure(address string, err error) {
	st.failed++
	st.failedURLs = append(st.failedURLs, address)
	st.errorsByType[FailureLabel(err)]++
}

func (st *crawlState) result(mode string) *models.CrawlResult {
	return &models.CrawlResult{
		Records:       st.records,
		Mode:          mode,
		FinalState:    st.state.String(),
		Err:           st.err,
		StartTime:     st.start,
		EndTime:       time.Now(),
		PagesVisited:  st.visited,
		PagesFailed:   st.failed,
		MissingFields: st.missing,
		FailedURLs:    st.failedURLs,
		ErrorsByType:  st.errorsByType,
	}
}

// FailureLabel categorises a page failure for counters and logs.
func FailureLabel(err error) string {
	if errors.Is(err, extract.ErrParse) {
		return "parse"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return scraper.ErrorTypeLabel(err)
}
