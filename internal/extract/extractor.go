// Package extract turns a marketplace search results page into products and
// pagination metadata. Items are read from the data blob embedded in a page
// script, first by slicing out the JSON literal and, when that fails, by
// parsing and evaluating the script itself.
package extract

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

// Defaults for the embedded data layout.
const (
	DefaultScriptMarker  = "window._dida_config_ ="
	DefaultJSONOpener    = `{"hierarchy"`
	DefaultDataVariable  = "window._dida_config_._init_data_"
	DefaultLinkTemplate  = "https://www.aliexpress.com/item/%d.html"
	// DefaultScriptTimeout bounds evaluation of one page script.
	DefaultScriptTimeout = 2 * time.Second
)

// itemListPath leads from the decoded blob to the raw item list.
var itemListPath = []any{"data", "root", "fields", "mods", "itemList", "content"}

// Options configures an Extractor. Zero values fall back to the defaults.
type Options struct {
	ScriptMarker  string
	JSONOpener    string
	DataVariable  string
	LinkTemplate  string
	// ScriptTimeout caps the robust path's script evaluation.
	ScriptTimeout time.Duration
	Logger        *zap.Logger
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	marker        string
	opener        string
	dataVariable  string
	linkTemplate  string
	scriptTimeout time.Duration
	logger        *zap.Logger
}

// New builds an Extractor.
func New(opts Options) *Extractor {
	e := &Extractor{
		marker:        opts.ScriptMarker,
		opener:        opts.JSONOpener,
		dataVariable:  opts.DataVariable,
		linkTemplate:  opts.LinkTemplate,
		scriptTimeout: opts.ScriptTimeout,
		logger:        opts.Logger,
	}
	if e.marker == "" {
		e.marker = DefaultScriptMarker
	}
	if e.opener == "" {
		e.opener = DefaultJSONOpener
	}
	if e.dataVariable == "" {
		e.dataVariable = DefaultDataVariable
	}
	if e.linkTemplate == "" {
		e.linkTemplate = DefaultLinkTemplate
	}
	if e.scriptTimeout <= 0 {
		e.scriptTimeout = DefaultScriptTimeout
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Extract parses body. Every failure is a *crawler.ParseError; script
// evaluation stops when ctx ends.
func (e *Extractor) Extract(ctx context.Context, body []byte) (crawler.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Page{}, &crawler.ParseError{Reason: "invalid html", Err: err}
	}

	script, ok := e.findScript(doc)
	if !ok {
		return crawler.Page{}, &crawler.ParseError{Reason: "no embedded data"}
	}

	items, path, err := e.itemList(ctx, script)
	if err != nil {
		return crawler.Page{}, err
	}

	products, err := e.products(items)
	if err != nil {
		return crawler.Page{}, err
	}

	active, total, err := pagination(doc)
	if err != nil {
		return crawler.Page{}, err
	}
	next := 0
	if active < total {
		next = active + 1
	}

	return crawler.Page{
		Products:  products,
		NextPage:  next,
		PageCount: total,
		Path:      path,
	}, nil
}

func (e *Extractor) findScript(doc *goquery.Document) (string, bool) {
	var script string
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, e.marker) {
			script = text
			found = true
			return false
		}
		return true
	})
	return script, found
}

// itemList tries the JSON slice first and falls back to evaluating the script.
func (e *Extractor) itemList(ctx context.Context, script string) ([]any, crawler.ExtractionPath, error) {
	items, err := fastItems(script, e.opener)
	if err == nil && len(items) > 0 {
		return items, crawler.PathFast, nil
	}
	e.logger.Debug("fast path missed, parsing script", zap.Error(err))

	items, err = robustItems(ctx, script, e.dataVariable, e.scriptTimeout)
	if err != nil {
		return nil, "", &crawler.ParseError{Reason: "item list not found", Err: err}
	}
	return items, crawler.PathRobust, nil
}
