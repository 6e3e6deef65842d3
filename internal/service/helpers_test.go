package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/locker"
	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/repository"
	"github.com/mrdjehknhc/axtest/internal/tradeClient"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
	active bool
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]float64), active: true}
}

func (f *fakePrices) set(contract string, price float64) {
	f.mu.Lock()
	f.prices[contract] = price
	f.mu.Unlock()
}

func (f *fakePrices) Price(_ context.Context, contract string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[contract]
	if !ok || p <= 0 {
		return 0, false
	}
	return p, true
}

func (f *fakePrices) Open() {
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
}

func (f *fakePrices) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakePrices) Close() error {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	return nil
}

type staticSettings struct{}

func (staticSettings) Get(string) model.UserSettings { return model.DefaultSettings() }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	registry *repository.FileRegistry
	prices   *fakePrices
	paper    *tradeClient.Paper
	events   *recorder
	executor *Executor
}

func newTestEnv(t *testing.T) *testEnv {
	reg, err := repository.NewFileRegistry(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)
	prices := newFakePrices()
	paper := tradeClient.NewPaper(100, prices.Price)
	rec := &recorder{}
	return &testEnv{
		registry: reg,
		prices:   prices,
		paper:    paper,
		events:   rec,
		executor: NewExecutor(reg, paper, locker.NewTable(), rec, 3, DefaultDust),
	}
}

func testPosition(contract string) model.Position {
	return model.Position{
		ID:               contract + "_1700000000",
		ContractAddress:  contract,
		InvestedSOL:      1,
		TokenAmount:      1000,
		EntryPrice:       1.0,
		CurrentPrice:     1.0,
		StopLoss:         15,
		BreakevenPercent: 15,
		SlippagePercent:  5,
		TakeProfitLevels: []model.TakeProfitRung{
			{Level: 1.5, VolumePercent: 25},
			{Level: 2, VolumePercent: 30},
		},
		Timestamp:          1700000000,
		TakeProfitExecuted: []int{},
	}
}

func (e *testEnv) add(t *testing.T, user string, pos model.Position) {
	require.NoError(t, e.registry.Add(context.Background(), user, pos))
	e.paper.SetBalance(pos.ContractAddress, pos.TokenAmount)
}

func (e *testEnv) get(t *testing.T, user, id string) (model.Position, bool) {
	pos, found, err := e.registry.Get(context.Background(), user, id)
	require.NoError(t, err)
	return pos, found
}
