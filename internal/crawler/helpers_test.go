package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSearchID = "0190f5e4-5a4c-7d3e-9a43-3f1c2b6d8e01"

var testRef = SearchRef{Owner: "owner-1", ID: testSearchID}

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, term string, page int) ([]byte, error) {
	args := m.Called(ctx, term, page)
	body, _ := args.Get(0).([]byte)
	return body, args.Error(1)
}

// pageBook answers Extract by looking the body up in a fixed table.
type pageBook map[string]Page

func (b pageBook) Extract(_ context.Context, body []byte) (Page, error) {
	page, ok := b[string(body)]
	if !ok {
		return Page{}, &ParseError{Reason: "no embedded data"}
	}
	return page, nil
}

// stallingExtractor blocks until ctx ends, like a page script that never
// returns.
type stallingExtractor struct{}

func (stallingExtractor) Extract(ctx context.Context, _ []byte) (Page, error) {
	<-ctx.Done()
	return Page{}, &ParseError{Reason: "item list not found", Err: ctx.Err()}
}

func pageKey(term string, page int) string {
	return fmt.Sprintf("%s#%d", term, page)
}

type fakeSessions struct {
	mu         sync.Mutex
	messages   []string
	stop       bool
	result     ResultSet
	saved      bool
	finished   bool
	appendErr  error
	stopErr    error
	saveErr    error
	finishedAt time.Time
}

func (f *fakeSessions) Create(context.Context, SearchRef, []QueryGroup) error { return nil }

func (f *fakeSessions) Exists(context.Context, SearchRef) (bool, error) { return true, nil }

func (f *fakeSessions) Queries(context.Context, SearchRef) ([]QueryGroup, error) { return nil, nil }

func (f *fakeSessions) Append(_ context.Context, _ SearchRef, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSessions) RequestStop(context.Context, SearchRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop = true
	return nil
}

func (f *fakeSessions) StopRequested(context.Context, SearchRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop, f.stopErr
}

func (f *fakeSessions) SaveResult(_ context.Context, _ SearchRef, result ResultSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.result = result
	f.saved = true
	return nil
}

func (f *fakeSessions) MarkFinished(_ context.Context, _ SearchRef, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	f.finishedAt = at
	return nil
}

func (f *fakeSessions) Poll(context.Context, SearchRef) (Snapshot, error) {
	return Snapshot{}, errors.New("not implemented")
}

func (f *fakeSessions) Result(context.Context, SearchRef) (ResultSet, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.finished, nil
}

func (f *fakeSessions) Release(context.Context, SearchRef, time.Duration) error { return nil }

func (f *fakeSessions) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (f *fakeSessions) Ping(context.Context) error { return nil }

// hasMessage reports whether any message contains substr.
func (f *fakeSessions) hasMessage(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type countingPauser struct {
	mu     sync.Mutex
	pauses int
}

func (p *countingPauser) Pause(ctx context.Context, _ time.Duration) error {
	p.mu.Lock()
	p.pauses++
	p.mu.Unlock()
	return ctx.Err()
}

func noJitter(time.Duration) time.Duration { return 0 }

func product(id int64, store, title, price string) Product {
	return Product{
		ID:        id,
		Title:     title,
		SalePrice: price,
		StoreLink: store,
		Link:      fmt.Sprintf("https://www.aliexpress.com/item/%d.html", id),
	}
}

func newTestTermCrawler(t *testing.T, fetcher Fetcher, book pageBook, sessions SessionStore, cfg Config) *TermCrawler {
	t.Helper()
	tc, err := NewTermCrawler(TermCrawlerOptions{
		Fetcher:   fetcher,
		Extractor: book,
		Sessions:  sessions,
		Config:    cfg,
		Pauser:    &countingPauser{},
		Clock:     fixedClock{now: time.Date(2024, 8, 11, 20, 0, 0, 0, time.UTC)},
		Jitter:    noJitter,
	})
	require.NoError(t, err)
	return tc
}

// expectPage wires a successful fetch for term/page to the body key the
// pageBook understands.
func expectPage(fetcher *MockFetcher, term string, page int) *mock.Call {
	return fetcher.On("Fetch", mock.Anything, term, page).Return([]byte(pageKey(term, page)), nil)
}
