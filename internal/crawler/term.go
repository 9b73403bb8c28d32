package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/clock/system"
	"github.com/JakeFAU/storefinder/internal/progress"
)

// TermCrawlerOptions wires the collaborators of a TermCrawler. Fetcher,
// Extractor and Sessions are required.
type TermCrawlerOptions struct {
	Fetcher   Fetcher
	Extractor Extractor
	Sessions  SessionStore
	Config    Config
	Pauser    Pauser
	Clock     Clock
	Emitter   progress.Emitter
	Logger    *zap.Logger
	// Jitter picks the pause before the next request; defaults to RandomPause.
	Jitter func(limit time.Duration) time.Duration
}

// TermCrawler paginates the results for one search term and groups the
// accepted products by store.
type TermCrawler struct {
	fetcher   Fetcher
	extractor Extractor
	sessions  SessionStore
	cfg       Config
	pauser    Pauser
	clock     Clock
	emitter   progress.Emitter
	logger    *zap.Logger
	jitter    func(time.Duration) time.Duration
}

// NewTermCrawler validates opts and fills defaults.
func NewTermCrawler(opts TermCrawlerOptions) (*TermCrawler, error) {
	if opts.Fetcher == nil || opts.Extractor == nil || opts.Sessions == nil {
		return nil, errors.New("term crawler requires fetcher, extractor and session store")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	c := &TermCrawler{
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		sessions:  opts.Sessions,
		cfg:       opts.Config,
		pauser:    opts.Pauser,
		clock:     opts.Clock,
		emitter:   opts.Emitter,
		logger:    opts.Logger,
		jitter:    opts.Jitter,
	}
	if c.pauser == nil {
		c.pauser = TimerPauser{}
	}
	if c.clock == nil {
		c.clock = system.New()
	}
	if c.emitter == nil {
		c.emitter = progress.Discard{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.jitter == nil {
		c.jitter = RandomPause
	}
	return c, nil
}

// Crawl reads pages for term until the page cap, the zero-yield cap, the last
// page or a stop request. It returns ErrStopped when ctx is canceled and an
// error wrapping ErrRetriesExhausted when the retry budget runs out.
func (c *TermCrawler) Crawl(ctx context.Context, ref SearchRef, term string) (StoreAggregate, error) {
	stores, err := c.crawl(ctx, ref, term)
	if err != nil && ctx.Err() != nil {
		return nil, ErrStopped
	}
	return stores, err
}

func (c *TermCrawler) crawl(ctx context.Context, ref SearchRef, term string) (StoreAggregate, error) {
	log := c.logger.With(zap.String("search_id", ref.ID), zap.String("term", term))
	j := journal{store: c.sessions, ref: ref, clock: c.clock}

	products := make(ProductSet)
	nextPage := 1
	retries := c.cfg.RetryBudget
	zeroPages := 0
	pagesRead := 0

	for nextPage != 0 {
		if ctx.Err() != nil {
			return nil, ErrStopped
		}
		// pagesRead guards against a server that keeps reporting the same page.
		if nextPage > c.cfg.MaxPages || pagesRead >= c.cfg.MaxPages {
			if err := j.post(ctx, "The maximum number of pages \"%d\" in search results for %q has been reached. Exit",
				c.cfg.MaxPages, term); err != nil {
				return nil, err
			}
			break
		}
		if zeroPages >= c.cfg.MaxZeroPages {
			if err := j.post(ctx, "%d pages with fully filtered products. Exit", zeroPages); err != nil {
				return nil, err
			}
			break
		}
		stop, err := j.stopRequested(ctx)
		if err != nil {
			return nil, err
		}
		if stop {
			log.Debug("stop flag observed", zap.Int("page", nextPage))
			break
		}

		page, err := c.readPage(ctx, j, ref, term, nextPage)
		for err != nil && errors.Is(err, ErrRetryable) && retries > 0 {
			if err := c.pause(ctx, j); err != nil {
				return nil, err
			}
			retries--
			page, err = c.readPage(ctx, j, ref, term, nextPage)
		}
		if err != nil {
			if !errors.Is(err, ErrRetryable) {
				return nil, err
			}
			log.Warn("retry budget exhausted", zap.Int("page", nextPage), zap.Error(err))
			if perr := j.post(ctx, "Failed to get page data"); perr != nil {
				return nil, perr
			}
			return nil, fmt.Errorf("term %q page %d: %w: %w", term, nextPage, ErrRetriesExhausted, err)
		}

		pagesRead++
		mergeFirstSeen(products, page.Products)
		if err := j.post(ctx, "Processed %d/%d pages", nextPage, page.PageCount); err != nil {
			return nil, err
		}
		if len(page.Products) == 0 {
			zeroPages++
		} else {
			zeroPages = 0
		}
		nextPage = page.NextPage

		if err := c.pause(ctx, j); err != nil {
			return nil, err
		}
	}

	stores, skipped := GroupByStore(products)
	if skipped > 0 {
		log.Debug("products without store link skipped", zap.Int("skipped", skipped))
	}
	if err := j.post(ctx, "Total stores for request %q: %d", term, len(stores)); err != nil {
		return nil, err
	}
	if err := j.post(ctx, "Total products for request %q: %d", term, len(products)); err != nil {
		return nil, err
	}
	return stores, nil
}

// readPage fetches, extracts and filters one page. Fetch and parse failures
// are reported to the journal and returned as retryable errors; a canceled ctx
// becomes ErrStopped.
func (c *TermCrawler) readPage(ctx context.Context, j journal, ref SearchRef, term string, pageNum int) (Page, error) {
	start := c.clock.Now()
	evt := progress.Event{
		SearchID: progress.ParseSearchID(ref.ID),
		Owner:    ref.Owner,
		Stage:    progress.StagePageDone,
		Term:     term,
		Page:     pageNum,
	}

	body, err := c.fetcher.Fetch(ctx, term, pageNum)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ErrStopped
		}
		c.emitPage(evt, start, progress.PageFetchError, err)
		if perr := j.post(ctx, "Failed to get HTML: %v", err); perr != nil {
			return Page{}, perr
		}
		return Page{}, err
	}

	page, err := c.extractor.Extract(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ErrStopped
		}
		c.emitPage(evt, start, progress.PageParseError, err)
		if perr := j.post(ctx, "Failed to parse page %d: %v", pageNum, err); perr != nil {
			return Page{}, perr
		}
		return Page{}, err
	}

	if c.cfg.FilterResults {
		total := len(page.Products)
		page.Products = FilterRelevant(term, page.Products)
		if err := j.post(ctx, "Filtered %d from %d products", len(page.Products), total); err != nil {
			return Page{}, err
		}
	}
	SortBySalePrice(page.Products)

	evt.Path = string(page.Path)
	evt.Products = len(page.Products)
	c.emitPage(evt, start, progress.PageOK, nil)
	return page, nil
}

func (c *TermCrawler) emitPage(evt progress.Event, start time.Time, outcome progress.PageOutcome, err error) {
	now := c.clock.Now()
	evt.TS = now
	evt.Dur = now.Sub(start)
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	evt.Outcome = outcome
	if err != nil {
		evt.Note = err.Error()
	}
	c.emitter.Emit(evt)
}

func (c *TermCrawler) pause(ctx context.Context, j journal) error {
	d := c.jitter(c.cfg.MaxPause)
	if err := j.post(ctx, "Pause for %s", d); err != nil {
		return err
	}
	if err := c.pauser.Pause(ctx, d); err != nil {
		return ErrStopped
	}
	return nil
}
