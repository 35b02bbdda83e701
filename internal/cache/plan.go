package cache

import (
	"time"

	"github.com/meet-minimalist/nsedata/internal/market"
)

// UpdatePlan is the date range a refresh must fetch for one symbol.
// FetchNeeded false means the cached table is already current.
type UpdatePlan struct {
	Start       time.Time
	End         time.Time
	FetchNeeded bool
}

// ComputeUpdatePlan decides what to fetch given the latest cached date.
//
// The range always ends at yesterday: the source finalizes a trading day only
// after close, so today's row is never requested. The range starts the day
// after the latest cached date, or at epoch when no cache exists. A table
// whose latest date is yesterday or newer is current; this one-day threshold
// is the single staleness authority for both updates and full downloads.
func ComputeUpdatePlan(latest time.Time, haveLatest bool, today, epoch time.Time) UpdatePlan {
	end := market.Day(today).AddDate(0, 0, -1)

	start := market.Day(epoch)
	if haveLatest {
		start = market.Day(latest).AddDate(0, 0, 1)
	}

	if start.After(end) {
		return UpdatePlan{}
	}
	return UpdatePlan{Start: start, End: end, FetchNeeded: true}
}
