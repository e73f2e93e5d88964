package strategy

import (
	"testing"

	"github.com/quantrail/quantrail-trading/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPolicy() Policy {
	return Policy{
		Name:             "pullback",
		EntryGroup:       EntryGroupMarketOpen,
		StopLossATRLong:  2.0,
		StopLossATRShort: 2.5,
		TakeProfitATR:    3.0,
		MaxHoldDays:      5,
	}
}

func TestRegisterAndResolve(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(validPolicy()))

	policy, err := registry.Resolve("pullback")
	require.NoError(t, err)
	assert.Equal(t, 2.0, policy.StopLossATR(true))
	assert.Equal(t, 2.5, policy.StopLossATR(false))
}

func TestRegisterRequiresMaxHoldDays(t *testing.T) {
	registry := NewRegistry()

	p := validPolicy()
	p.MaxHoldDays = 0

	err := registry.Register(p)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStrategyRegistration))
}

func TestRegisterRejectsInvalidEntryGroup(t *testing.T) {
	registry := NewRegistry()

	p := validPolicy()
	p.EntryGroup = "whenever"

	assert.Error(t, registry.Register(p))
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(validPolicy()))
	assert.Error(t, registry.Register(validPolicy()))
}

func TestOscillatorNeutralDefaultsToFifty(t *testing.T) {
	registry := NewRegistry()

	p := validPolicy()
	p.UseOscillatorExit = true

	require.NoError(t, registry.Register(p))

	resolved, err := registry.Resolve("pullback")
	require.NoError(t, err)
	assert.Equal(t, 50.0, resolved.OscillatorNeutral)
}

func TestResolveUnknownStrategy(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("ghost")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownStrategy))
}

func TestNames(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(validPolicy()))

	other := validPolicy()
	other.Name = "momentum"
	other.EntryGroup = EntryGroupConfirmation
	require.NoError(t, registry.Register(other))

	assert.ElementsMatch(t, []string{"pullback", "momentum"}, registry.Names())
}
