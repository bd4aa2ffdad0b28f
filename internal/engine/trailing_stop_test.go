package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atr-trading-bot/internal/types"
)

func TestTrailingStopLongRatchetsUp(t *testing.T) {
	tr := NewTrailingStopTracker(2)

	lvl, ok := tr.Update("EURUSD", types.Long, 1.1000, 0.0010)
	require.True(t, ok)
	assert.InDelta(t, 1.0980, lvl, 1e-9)

	lvl, _ = tr.Update("EURUSD", types.Long, 1.1020, 0.0010)
	assert.InDelta(t, 1.1000, lvl, 1e-9)

	lvl, _ = tr.Update("EURUSD", types.Long, 1.0950, 0.0010)
	assert.InDelta(t, 1.1000, lvl, 1e-9, "stop must not loosen")
}

func TestTrailingStopShortRatchetsDown(t *testing.T) {
	tr := NewTrailingStopTracker(2)

	lvl, _ := tr.Update("EURUSD", types.Short, 1.1000, 0.0010)
	assert.InDelta(t, 1.1020, lvl, 1e-9)

	lvl, _ = tr.Update("EURUSD", types.Short, 1.0980, 0.0010)
	assert.InDelta(t, 1.1000, lvl, 1e-9)

	lvl, _ = tr.Update("EURUSD", types.Short, 1.1050, 0.0010)
	assert.InDelta(t, 1.1000, lvl, 1e-9)
}

func TestTrailingStopMonotonicUnderRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, dir := range []types.Direction{types.Long, types.Short} {
		tr := NewTrailingStopTracker(1.5)
		price := 100.0
		prev := math.NaN()
		for i := 0; i < 500; i++ {
			price += rng.NormFloat64()
			atr := 0.5 + rng.Float64()
			lvl, ok := tr.Update("X", dir, price, atr)
			require.True(t, ok)
			if !math.IsNaN(prev) {
				if dir == types.Long {
					require.GreaterOrEqual(t, lvl, prev)
				} else {
					require.LessOrEqual(t, lvl, prev)
				}
			}
			prev = lvl
		}
	}
}

func TestTrailingStopIgnoresBadATR(t *testing.T) {
	tr := NewTrailingStopTracker(2)

	_, ok := tr.Update("EURUSD", types.Long, 1.1, 0)
	assert.False(t, ok)
	_, ok = tr.Update("EURUSD", types.Long, 1.1, math.NaN())
	assert.False(t, ok)
	assert.Empty(t, tr.Symbols())

	tr.Update("EURUSD", types.Long, 1.1, 0.001)
	lvl, ok := tr.Update("EURUSD", types.Long, 1.2, -1)
	assert.True(t, ok)
	assert.InDelta(t, 1.098, lvl, 1e-9)
}

func TestTrailingStopDirectionChangeReseeds(t *testing.T) {
	tr := NewTrailingStopTracker(2)
	tr.Update("EURUSD", types.Long, 1.1, 0.001)

	lvl, _ := tr.Update("EURUSD", types.Short, 1.1, 0.001)
	assert.InDelta(t, 1.102, lvl, 1e-9)
}

func TestTrailingStopExit(t *testing.T) {
	tr := NewTrailingStopTracker(2)
	tr.Update("EURUSD", types.Long, 1.1000, 0.0010)
	tr.Update("GBPUSD", types.Short, 1.2700, 0.0010)

	_, hit := tr.ShouldExit("EURUSD", 1.0990, types.Long)
	assert.False(t, hit)

	sig, hit := tr.ShouldExit("EURUSD", 1.0980, types.Long)
	require.True(t, hit)
	assert.Equal(t, types.SignalCloseBuy, sig.Kind)
	assert.Equal(t, "Trailing stop hit", sig.Reason)

	sig, hit = tr.ShouldExit("GBPUSD", 1.2725, types.Short)
	require.True(t, hit)
	assert.Equal(t, types.SignalCloseSell, sig.Kind)

	_, hit = tr.ShouldExit("USDJPY", 100, types.Long)
	assert.False(t, hit)
}

func TestTrailingStopRemove(t *testing.T) {
	tr := NewTrailingStopTracker(2)
	tr.Update("EURUSD", types.Long, 1.1, 0.001)
	tr.Update("AUDUSD", types.Long, 0.65, 0.001)
	assert.Equal(t, []string{"AUDUSD", "EURUSD"}, tr.Symbols())

	tr.Remove("EURUSD")
	_, ok := tr.Stop("EURUSD")
	assert.False(t, ok)
	assert.Equal(t, []string{"AUDUSD"}, tr.Symbols())
}
