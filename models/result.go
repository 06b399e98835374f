package models

import "time"

// FetchResult is the outcome of fetching one page address. Err is nil on
// success and holds a classified failure otherwise.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Err         error
}

// OK reports whether the fetch produced a body.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// Page is the contribution of one visited page. Err is set when the page
// failed to fetch or parse, in which case Records is empty.
type Page struct {
	Number        int
	URL           string
	Records       []Record
	MissingFields int
	Err           error
}

// CrawlResult holds the overall outcome of one crawl.
type CrawlResult struct {
	Records       []Record
	Mode          string
	FinalState    string
	Err           error
	StartTime     time.Time
	EndTime       time.Time
	PagesVisited  int
	PagesFailed   int
	MissingFields int
	FailedURLs    []string
	ErrorsByType  map[string]int
}

// Duration returns how long the crawl ran.
func (r *CrawlResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
