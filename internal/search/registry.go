package search

import (
	"context"
	"sync"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

type entry struct {
	ref      crawler.SearchRef
	cancel   context.CancelFunc
	canceled bool
}

// Registry tracks searches that are queued or running, enforces the per-owner
// cap and owns each search's cancel function.
type Registry struct {
	mu       sync.Mutex
	limit    int
	searches map[string]*entry
	perOwner map[string]int
}

// NewRegistry creates a Registry allowing limit active searches per owner.
// A limit <= 0 disables the cap.
func NewRegistry(limit int) *Registry {
	return &Registry{
		limit:    limit,
		searches: make(map[string]*entry),
		perOwner: make(map[string]int),
	}
}

// Reserve claims a slot for ref or returns crawler.ErrTooManySearches.
func (r *Registry) Reserve(ref crawler.SearchRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.searches[ref.String()]; ok {
		return nil
	}
	if r.limit > 0 && r.perOwner[ref.Owner] >= r.limit {
		return crawler.ErrTooManySearches
	}
	r.searches[ref.String()] = &entry{ref: ref}
	r.perOwner[ref.Owner]++
	return nil
}

// Activate derives the search context from ctx. A search canceled while
// queued receives an already canceled context.
func (r *Registry) Activate(ctx context.Context, ref crawler.SearchRef) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.searches[ref.String()]
	if !ok {
		return nil, false
	}
	searchCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	if e.canceled {
		cancel()
	}
	return searchCtx, true
}

// Cancel aborts the search context. It reports false for unknown searches.
func (r *Registry) Cancel(ref crawler.SearchRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.searches[ref.String()]
	if !ok {
		return false
	}
	e.canceled = true
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Release frees the slot held by ref.
func (r *Registry) Release(ref crawler.SearchRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.searches[ref.String()]
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(r.searches, ref.String())
	r.perOwner[ref.Owner]--
	if r.perOwner[ref.Owner] <= 0 {
		delete(r.perOwner, ref.Owner)
	}
}

// Active reports whether ref holds a slot.
func (r *Registry) Active(ref crawler.SearchRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.searches[ref.String()]
	return ok
}

// Count returns how many searches owner has queued or running.
func (r *Registry) Count(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perOwner[owner]
}

// CancelAll aborts every registered search; used at shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.searches {
		e.canceled = true
		if e.cancel != nil {
			e.cancel()
		}
	}
}
