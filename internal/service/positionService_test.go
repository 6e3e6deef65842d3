package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/model"
)

func newTestPositionsService(env *testEnv) *PositionsService {
	p := NewPositionsService(env.registry, env.prices, env.paper, staticSettings{}, env.executor)
	p.SettleDelay = 0
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return p
}

func TestOpenPosition(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	env.prices.set("AAA", 0.5)

	pos, err := p.OpenPosition(context.Background(), "u1", "AAA", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "AAA_1700000000", pos.ID)
	assert.Equal(t, 0.5, pos.EntryPrice)
	assert.Equal(t, 2.0, pos.InvestedSOL)
	assert.InDelta(t, 4, pos.TokenAmount, 1e-9)
	defaults := model.DefaultSettings()
	assert.Equal(t, defaults.StopLoss, pos.StopLoss)
	assert.Equal(t, defaults.BreakevenPercent, pos.BreakevenPercent)
	assert.Equal(t, defaults.TakeProfitLevels, pos.TakeProfitLevels)
	assert.False(t, pos.BreakevenMoved)
	assert.Empty(t, pos.TakeProfitExecuted)
	assert.NotEmpty(t, pos.TransactionHash)

	stored, found := env.get(t, "u1", pos.ID)
	require.True(t, found)
	assert.Equal(t, pos.EntryPrice, stored.EntryPrice)

	opened := env.events.ofType(events.PositionOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, 2.0, opened[0].AmountSOL)
}

func TestOpenPositionSameSecond(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	env.prices.set("AAA", 0.5)
	ctx := context.Background()

	first, err := p.OpenPosition(ctx, "u1", "AAA", 1, nil)
	require.NoError(t, err)
	other, err := p.OpenPosition(ctx, "u2", "AAA", 1, nil)
	require.NoError(t, err)
	again, err := p.OpenPosition(ctx, "u1", "AAA", 1, nil)
	require.NoError(t, err)

	assert.Equal(t, "AAA_1700000000", first.ID)
	assert.Equal(t, "AAA_1700000000", other.ID)
	assert.Equal(t, "AAA_1700000000_2", again.ID)
	assert.Len(t, env.paper.Buys(), 3)

	for _, tracked := range []struct{ user, id string }{{"u1", first.ID}, {"u2", other.ID}, {"u1", again.ID}} {
		_, found := env.get(t, tracked.user, tracked.id)
		assert.True(t, found, tracked)
	}
	assert.Len(t, env.events.ofType(events.PositionOpened), 3)
}

func TestOpenPositionOverrides(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	env.prices.set("AAA", 1)
	sl := 30.0
	ladder := []model.TakeProfitRung{{Level: 3, VolumePercent: 100}}

	pos, err := p.OpenPosition(context.Background(), "u1", "AAA", 1, &OpenOverrides{StopLoss: &sl, TakeProfitLevels: ladder})
	require.NoError(t, err)
	assert.Equal(t, 30.0, pos.StopLoss)
	assert.Equal(t, ladder, pos.TakeProfitLevels)
}

func TestOpenPositionFailures(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)

	_, err := p.OpenPosition(context.Background(), "u1", "AAA", 1, nil)
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)

	env.prices.set("AAA", 1)
	_, err = p.OpenPosition(context.Background(), "u1", "AAA", 0, nil)
	assert.Error(t, err)
	_, err = p.OpenPosition(context.Background(), "u1", "AAA", 1000, nil)
	assert.ErrorIs(t, err, model.ErrTradeFailed)

	snap, err := env.registry.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Count())
	assert.Len(t, env.events.ofType(events.Error), 3)
}

func TestClosePositionDefaultsToManual(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	pos := testPosition("AAA")
	env.add(t, "u1", pos)

	require.NoError(t, p.ClosePosition(context.Background(), "u1", pos.ID, 100, ""))
	closed := env.events.ofType(events.PositionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, events.ReasonManual, closed[0].Reason)

	assert.ErrorIs(t, p.ClosePosition(context.Background(), "u1", pos.ID, 100, ""), model.ErrPositionNotFound)
}

func TestPanicSell(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	env.add(t, "u1", testPosition("AAA"))
	env.add(t, "u1", testPosition("BBB"))
	env.add(t, "u2", testPosition("CCC"))

	closed, err := p.PanicSell(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	left, err := p.Positions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, left)
	other, err := p.Positions(context.Background(), "u2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
	for _, e := range env.events.ofType(events.PositionClosed) {
		assert.Equal(t, events.ReasonPanic, e.Reason)
	}
}

func TestPanicSellReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	env.add(t, "u1", testPosition("AAA"))
	env.add(t, "u1", testPosition("BBB"))
	env.paper.FailSells = 1

	closed, err := p.PanicSell(context.Background(), "u1")
	assert.Error(t, err)
	assert.Equal(t, 1, closed)
	left, _ := p.Positions(context.Background(), "u1")
	assert.Len(t, left, 1)
}

func TestUpdatePositionSettings(t *testing.T) {
	env := newTestEnv(t)
	p := newTestPositionsService(env)
	pos := testPosition("AAA")
	env.add(t, "u1", pos)

	sl := 25.0
	ladder := []model.TakeProfitRung{{Level: 2, VolumePercent: 50}, {Level: 4, VolumePercent: 50}}
	updated, err := p.UpdatePositionSettings(context.Background(), "u1", pos.ID, SettingsPatch{StopLoss: &sl, TakeProfitLevels: ladder})
	require.NoError(t, err)
	assert.Equal(t, 25.0, updated.StopLoss)
	assert.Equal(t, ladder, updated.TakeProfitLevels)
	assert.Equal(t, pos.BreakevenPercent, updated.BreakevenPercent)

	negative := -1.0
	_, err = p.UpdatePositionSettings(context.Background(), "u1", pos.ID, SettingsPatch{StopLoss: &negative})
	assert.Error(t, err)
	_, err = p.UpdatePositionSettings(context.Background(), "u1", pos.ID, SettingsPatch{
		TakeProfitLevels: []model.TakeProfitRung{{Level: 0.9, VolumePercent: 50}},
	})
	assert.ErrorIs(t, err, model.ErrInvalidRung)
	_, err = p.UpdatePositionSettings(context.Background(), "u1", pos.ID, SettingsPatch{
		TakeProfitLevels: []model.TakeProfitRung{{Level: 2, VolumePercent: 60}, {Level: 3, VolumePercent: 60}},
	})
	assert.ErrorIs(t, err, model.ErrInvalidRung)
	_, err = p.UpdatePositionSettings(context.Background(), "u1", "missing", SettingsPatch{StopLoss: &sl})
	assert.ErrorIs(t, err, model.ErrPositionNotFound)
}
