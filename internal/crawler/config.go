package crawler

import (
	"fmt"
	"time"
)

// Defaults used when a Config field is left at its zero value.
const (
	DefaultMaxPages     = 6
	DefaultMaxZeroPages = 2
	DefaultRetryBudget  = 5
	DefaultMaxPause     = 5 * time.Second
)

// Config captures the knobs that bound a single crawl.
type Config struct {
	// MaxPages caps how many result pages are read per term.
	MaxPages int
	// MaxZeroPages stops a term after this many consecutive pages with no
	// accepted products.
	MaxZeroPages int
	// RetryBudget is the number of page retries a term may spend in total.
	RetryBudget int
	// MaxPause bounds the randomized pause between requests.
	MaxPause time.Duration
	// FilterResults enables the relevance filter.
	FilterResults bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:      DefaultMaxPages,
		MaxZeroPages:  DefaultMaxZeroPages,
		RetryBudget:   DefaultRetryBudget,
		MaxPause:      DefaultMaxPause,
		FilterResults: true,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.MaxZeroPages <= 0 {
		return fmt.Errorf("crawler.max_zero_pages must be > 0")
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("crawler.retry_budget must be >= 0")
	}
	if c.MaxPause < 0 {
		return fmt.Errorf("crawler.max_pause must be >= 0")
	}
	return nil
}
