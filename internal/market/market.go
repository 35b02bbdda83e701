// Package market defines the domain types shared by fetchers and the cache:
// one trading day of price, volume and deliverable-position data for a symbol.
package market

import "time"

// DailyRecord is a single trading day for one symbol. Fetchers that do not
// provide deliverable-position data (e.g. Yahoo) leave those fields zero.
type DailyRecord struct {
	Date           time.Time
	Symbol         string
	Series         string
	PrevClose      float64
	Open           float64
	High           float64
	Low            float64
	Last           float64
	Close          float64
	Average        float64
	TradedQty      int64
	Turnover       float64
	Trades         int64
	DeliverableQty int64
	DeliverablePct float64
}

// Day truncates t to midnight UTC. All trade dates are stored and compared
// at day granularity.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
