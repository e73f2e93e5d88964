package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewHeldPositionSeedsExtremesAtFill(t *testing.T) {
	entryDate := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	p := NewHeldPosition("AAPL", "pullback", DirectionLong, 101.5, 2, 10, entryDate)

	assert.Equal(t, 101.5, p.HighestPrice)
	assert.Equal(t, 101.5, p.LowestPrice)
	assert.Equal(t, 0, p.BarsHeld)
	assert.Equal(t, 0, p.EmergencyLossBars)
}

func TestUpdateExtremes(t *testing.T) {
	p := NewHeldPosition("AAPL", "pullback", DirectionLong, 100, 2, 10, time.Time{})

	p.UpdateExtremes(104, 98)
	assert.Equal(t, 104.0, p.HighestPrice)
	assert.Equal(t, 98.0, p.LowestPrice)

	// A narrower bar leaves the extremes alone.
	p.UpdateExtremes(103, 99)
	assert.Equal(t, 104.0, p.HighestPrice)
	assert.Equal(t, 98.0, p.LowestPrice)

	// A zero low is bad data, not a new extreme.
	p.UpdateExtremes(104, 0)
	assert.Equal(t, 98.0, p.LowestPrice)
}

func TestFavorableExcursion(t *testing.T) {
	long := NewHeldPosition("AAPL", "pullback", DirectionLong, 100, 2, 10, time.Time{})
	long.UpdateExtremes(105, 97)
	assert.Equal(t, 5.0, long.FavorableExcursion())

	short := NewHeldPosition("AAPL", "pullback", DirectionShort, 100, 2, 10, time.Time{})
	short.UpdateExtremes(103, 94)
	assert.Equal(t, 6.0, short.FavorableExcursion())

	// A position that only moved against us has zero excursion.
	flat := NewHeldPosition("AAPL", "pullback", DirectionLong, 100, 2, 10, time.Time{})
	flat.UpdateExtremes(100, 95)
	assert.Equal(t, 0.0, flat.FavorableExcursion())
}

func TestAdverseMovePct(t *testing.T) {
	long := NewHeldPosition("AAPL", "pullback", DirectionLong, 100, 2, 10, time.Time{})
	assert.InDelta(t, 0.08, long.AdverseMovePct(92), 1e-9)
	assert.Equal(t, 0.0, long.AdverseMovePct(105), "a favorable move is clamped to zero")

	short := NewHeldPosition("AAPL", "pullback", DirectionShort, 100, 2, 10, time.Time{})
	assert.InDelta(t, 0.08, short.AdverseMovePct(108), 1e-9)
	assert.Equal(t, 0.0, short.AdverseMovePct(95))
}

func TestDirectionSides(t *testing.T) {
	assert.Equal(t, SideBuy, DirectionLong.EntrySide())
	assert.Equal(t, SideSell, DirectionLong.ExitSide())
	assert.Equal(t, SideSell, DirectionShort.EntrySide())
	assert.Equal(t, SideBuy, DirectionShort.ExitSide())
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusRejected.IsTerminal())
	assert.False(t, OrderStatus("PENDING_NEW").IsTerminal())

	assert.True(t, OrderStatusFilled.HasFill())
	assert.True(t, OrderStatusPartiallyFilled.HasFill())
	assert.False(t, OrderStatusAccepted.HasFill())
	assert.False(t, OrderStatusRejected.HasFill())
}

func TestExitDecisionConstructors(t *testing.T) {
	hold := Hold()
	assert.Equal(t, ExitActionHold, hold.Action)

	exit := Exit(ExitReasonStopLoss, 96, false)
	assert.Equal(t, ExitActionExit, exit.Action)
	assert.Equal(t, ExitReasonStopLoss, exit.Reason)
	assert.Equal(t, 96.0, exit.TargetPrice)
	assert.False(t, exit.Emergency)
}
