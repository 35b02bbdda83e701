// Package scraper defines the boundary between the cache and remote market
// data sources.
package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meet-minimalist/nsedata/internal/market"
)

// Fetcher retrieves daily records for a symbol over an inclusive date range.
//
// A nil error with zero records means the range genuinely contains no trading
// data (holidays, pre-listing dates) and must be treated as success by
// callers. Errors are reserved for source failures.
type Fetcher interface {
	Source() string
	FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]market.DailyRecord, error)
}

// ListingDater is implemented by fetchers that can resolve the exchange
// listing date of a symbol, used to pick a tighter start for full downloads.
type ListingDater interface {
	ListingDate(ctx context.Context, symbol string) (time.Time, bool)
}

type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[string]Fetcher),
	}
}

func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[f.Source()] = f
}

func (r *Registry) Get(source string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[source]
	if !ok {
		return nil, fmt.Errorf("fetcher not found for source: %s", source)
	}
	return f, nil
}

func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sources := make([]string, 0, len(r.fetchers))
	for src := range r.fetchers {
		sources = append(sources, src)
	}
	return sources
}
