// Package aggregate folds streamed minute bars into completed daily bars.
package aggregate

import (
	"time"

	"github.com/quantrail/quantrail-trading/internal/types"
)

// DailyBarAggregator accumulates minute bars into one bucket per symbol per
// trading day. A bucket is emitted as a completed daily bar when a bar for
// a later trading date arrives, or when flushed.
//
// Not safe for concurrent use; the position monitor serializes access.
type DailyBarAggregator struct {
	loc     *time.Location
	buckets map[string]*bucket
}

type bucket struct {
	date time.Time
	bar  types.Bar
}

// New creates an aggregator using the given trading-calendar timezone.
func New(loc *time.Location) *DailyBarAggregator {
	return &DailyBarAggregator{
		loc:     loc,
		buckets: make(map[string]*bucket),
	}
}

// TradingDate maps a timestamp to its trading-calendar date.
func (a *DailyBarAggregator) TradingDate(t time.Time) time.Time {
	local := t.In(a.loc)

	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
}

// Add accumulates a bar into its symbol's current-day bucket. When the
// bar's trading date advances past the bucket's date, the completed daily
// bar is returned with ok=true and a new bucket is opened.
func (a *DailyBarAggregator) Add(bar types.Bar) (types.Bar, bool) {
	date := a.TradingDate(bar.Time)

	current, exists := a.buckets[bar.Symbol]
	if !exists {
		a.buckets[bar.Symbol] = newBucket(bar, date)

		return types.Bar{}, false
	}

	if date.After(current.date) {
		completed := current.bar
		a.buckets[bar.Symbol] = newBucket(bar, date)

		return completed, true
	}

	current.bar.High = max(current.bar.High, bar.High)
	current.bar.Low = min(current.bar.Low, bar.Low)
	current.bar.Close = bar.Close
	current.bar.Volume += bar.Volume
	current.bar.Time = bar.Time

	return types.Bar{}, false
}

// Flush force-emits the in-progress bucket for a symbol without a date
// change, for session teardown.
func (a *DailyBarAggregator) Flush(symbol string) (types.Bar, bool) {
	current, exists := a.buckets[symbol]
	if !exists {
		return types.Bar{}, false
	}

	delete(a.buckets, symbol)

	return current.bar, true
}

// FlushAll force-emits every in-progress bucket.
func (a *DailyBarAggregator) FlushAll() []types.Bar {
	bars := make([]types.Bar, 0, len(a.buckets))

	for symbol := range a.buckets {
		if bar, ok := a.Flush(symbol); ok {
			bars = append(bars, bar)
		}
	}

	return bars
}

func newBucket(bar types.Bar, date time.Time) *bucket {
	daily := bar
	daily.IsDaily = true

	return &bucket{
		date: date,
		bar:  daily,
	}
}
