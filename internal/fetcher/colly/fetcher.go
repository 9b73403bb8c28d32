// Package collyfetcher implements crawler.Fetcher for marketplace search pages
// using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/metrics"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultBaseURL        = "https://www.aliexpress.com/w/wholesale"
	DefaultSPM            = "a2g0o.home.search.0"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 10 * time.Second
)

// Config controls request construction and timeouts.
type Config struct {
	BaseURL   string
	SPM       string
	UserAgent string
	Headers   map[string]string
	Cookies   map[string]string
	// ConnectTimeout bounds dialing; ReadTimeout bounds waiting for and reading
	// the response.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Limiter paces requests per host. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
	ReportStatus(rawURL string, status int)
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher around a shared transport. A nil transport gets one
// built from the configured timeouts; limiter may be nil.
func New(cfg Config, transport http.RoundTripper, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SPM == "" {
		cfg.SPM = DefaultSPM
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if transport == nil {
		transport = NewTransport(cfg.ConnectTimeout, cfg.ReadTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.ConnectTimeout + cfg.ReadTimeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// NewTransport builds the long-lived HTTP transport shared by every fetch.
func NewTransport(connectTimeout, readTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// SearchURL renders the results URL for term and page. Page 1 carries no
// page parameter.
func (f *Fetcher) SearchURL(term string, page int) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(term), " ", "-"))
	params := url.Values{}
	params.Set("spm", f.cfg.SPM)
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s-%s.html?%s", strings.ToLower(f.cfg.BaseURL), url.PathEscape(slug), params.Encode())
}

// Fetch downloads one search results page. Failures are *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, term string, page int) ([]byte, error) {
	target := f.SearchURL(term, page)
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return nil, &crawler.FetchError{Kind: crawler.TransportFailure, URL: target, Err: err}
		}
	}

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &body, &statusCode, &fetchErr)

	start := time.Now()
	err := f.runCollector(ctx, collector, target, &fetchErr)
	if err != nil && ctx.Err() != nil {
		// The visit goroutine may still be running; its results are not read.
		return nil, &crawler.FetchError{Kind: crawler.TransportFailure, URL: target, Err: err}
	}
	if f.limiter != nil && statusCode != 0 {
		f.limiter.ReportStatus(target, statusCode)
	}
	log := f.logger.With(zap.String("term", term), zap.Int("page", page), zap.String("url", target))
	switch {
	case err == nil && statusCode >= 200 && statusCode < 300:
		metrics.ObserveFetch(target, strconv.Itoa(statusCode), len(body))
		log.Debug("fetched search page", zap.Int("bytes", len(body)), zap.Duration("dur", time.Since(start)))
		return body, nil
	case statusCode != 0:
		metrics.ObserveFetch(target, strconv.Itoa(statusCode), len(body))
		log.Warn("search page status failure", zap.Int("status", statusCode))
		return nil, &crawler.FetchError{Kind: crawler.StatusFailure, URL: target, StatusCode: statusCode, Err: err}
	default:
		if err == nil {
			err = errors.New("no response received")
		}
		metrics.ObserveFetch(target, "transport_error", 0)
		if strings.Contains(err.Error(), "TLS handshake timeout") {
			metrics.ObserveTLSHandshakeTimeout()
		}
		log.Warn("search page transport failure", zap.Error(err))
		return nil, &crawler.FetchError{Kind: crawler.TransportFailure, URL: target, Err: err}
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, statusCode *int, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.applyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*statusCode = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// applyHeaders copies configured headers and renders cookies in key order.
func (f *Fetcher) applyHeaders(r *colly.Request) {
	for key, value := range f.cfg.Headers {
		r.Headers.Set(key, value)
	}
	if len(f.cfg.Cookies) == 0 {
		return
	}
	names := make([]string, 0, len(f.cfg.Cookies))
	for name := range f.cfg.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, (&http.Cookie{Name: name, Value: f.cfg.Cookies[name]}).String())
	}
	r.Headers.Set("Cookie", strings.Join(parts, "; "))
}
