// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// QueryGroup is an ordered list of alternative search terms that describe one
// product the caller is looking for.
type QueryGroup []string

// Product is a single marketplace listing extracted from a search page.
type Product struct {
	ID            int64  `json:"product_id"`
	Title         string `json:"title"`
	Image         string `json:"image"`
	Currency      string `json:"currency"`
	OriginalPrice string `json:"original_price"`
	SalePrice     string `json:"sale_price"`
	Shipping      string `json:"shipping"`
	StoreID       int64  `json:"store_id"`
	StoreTitle    string `json:"store_title"`
	StoreLink     string `json:"store_link"`
	Link          string `json:"link"`
}

// ProductSet maps product ids to records.
type ProductSet map[int64]Product

// StoreAggregate maps a store link to the products found for it.
type StoreAggregate map[string]ProductSet

// ResultSet is the intersection-merged store aggregate returned for a search.
type ResultSet map[string]ProductSet

// ExtractionPath names the strategy that produced a page's item list.
type ExtractionPath string

// Extraction strategies reported by the page extractor.
const (
	PathFast   ExtractionPath = "fast"
	PathRobust ExtractionPath = "robust"
)

// Page is the parsed content of one search results page.
type Page struct {
	// Products are in document order; ids are unique within the page.
	Products []Product
	// NextPage is 0 when the page is the last one.
	NextPage  int
	PageCount int
	Path      ExtractionPath
}

// SearchRef identifies a crawl session namespaced under its owner.
type SearchRef struct {
	Owner string `json:"owner"`
	ID    string `json:"search_id"`
}

// Session fields stored under a SearchRef.
const (
	FieldMessages   = "messages"
	FieldResults    = "results"
	FieldStopFlag   = "stop_flag"
	FieldFinished   = "is_finished"
	FieldReadCursor = "read_cursor"
	FieldQueries    = "queries"
	FieldFinishedAt = "finished_at"
)

// SessionFields lists every field key a session may own.
var SessionFields = []string{
	FieldMessages,
	FieldResults,
	FieldStopFlag,
	FieldFinished,
	FieldReadCursor,
	FieldQueries,
	FieldFinishedAt,
}

// Key returns the namespaced storage key for field.
func (r SearchRef) Key(field string) string {
	return fmt.Sprintf("%s:%s:%s", r.Owner, r.ID, field)
}

// String renders the owner-scoped search key.
func (r SearchRef) String() string {
	return r.Owner + ":" + r.ID
}

// Snapshot is what a progress poll returns.
type Snapshot struct {
	Messages []string  `json:"messages"`
	Result   ResultSet `json:"results,omitempty"`
	Finished bool      `json:"search_finished"`
}

// SearchTask is queued for a worker to execute.
type SearchTask struct {
	Search    SearchRef
	Groups    []QueryGroup
	Submitted time.Time
}

// Outcome summarizes how a crawl ended.
type Outcome string

// Crawl outcomes.
const (
	OutcomeFinished Outcome = "finished"
	OutcomeStopped  Outcome = "stopped"
	OutcomeFailed   Outcome = "failed"
)
