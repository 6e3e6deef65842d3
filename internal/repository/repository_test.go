package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrdjehknhc/axtest/internal/model"
)

type registry interface {
	Add(ctx context.Context, userID string, position model.Position) error
	List(ctx context.Context, userID string) ([]model.Position, error)
	Get(ctx context.Context, userID, positionID string) (model.Position, bool, error)
	Update(ctx context.Context, userID, positionID string, patch model.PositionPatch) (bool, error)
	Remove(ctx context.Context, userID, positionID string) (bool, error)
	All(ctx context.Context) (model.Snapshot, error)
}

func newPosition(contract string, at int64) model.Position {
	return model.Position{
		ID:                 model.NewPositionID(contract, time.Unix(at, 0)),
		ContractAddress:    contract,
		InvestedSOL:        1,
		TokenAmount:        1000,
		EntryPrice:         1.0,
		CurrentPrice:       1.0,
		StopLoss:           15,
		TakeProfitLevels:   []model.TakeProfitRung{{Level: 1.5, VolumePercent: 25}, {Level: 2, VolumePercent: 100}},
		BreakevenPercent:   15,
		SlippagePercent:    5,
		Timestamp:          float64(at),
		TakeProfitExecuted: []int{},
	}
}

func registryContract(t *testing.T, reg registry) {
	ctx := context.Background()
	posA := newPosition("AAA", 1700000000)
	posB := newPosition("BBB", 1700000001)

	require.NoError(t, reg.Add(ctx, "1", posA))
	require.NoError(t, reg.Add(ctx, "1", posB))
	err := reg.Add(ctx, "1", posA)
	assert.True(t, errors.Is(err, model.ErrPositionExists))

	bad := newPosition("CCC", 1700000002)
	bad.EntryPrice = 0
	assert.True(t, errors.Is(reg.Add(ctx, "1", bad), model.ErrInvalidEntryPrice))

	list, err := reg.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, posA.ID, list[0].ID)
	assert.Equal(t, posB.ID, list[1].ID)

	ok, err := reg.Update(ctx, "1", posA.ID, model.PositionPatch{
		CurrentPrice: model.Float(1.2),
		PnL:          model.Float(20),
		ExecutedRung: model.Int(0),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = reg.Update(ctx, "1", posA.ID, model.PositionPatch{ExecutedRung: model.Int(0)})
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := reg.Get(ctx, "1", posA.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.2, got.CurrentPrice)
	assert.Equal(t, 20.0, got.PnL)
	assert.Equal(t, 15.0, got.StopLoss)
	assert.Equal(t, []int{0}, got.TakeProfitExecuted)
	assert.Equal(t, posA.TakeProfitLevels, got.TakeProfitLevels)

	ok, err = reg.Update(ctx, "1", "missing", model.PositionPatch{PnL: model.Float(1)})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = reg.Update(ctx, "2", posA.ID, model.PositionPatch{PnL: model.Float(1)})
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := reg.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count())

	ok, err = reg.Remove(ctx, "1", posA.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = reg.Remove(ctx, "1", posA.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = reg.Remove(ctx, "1", posB.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err = reg.All(ctx)
	require.NoError(t, err)
	assert.NotContains(t, snap, "1")

	// same id is fine for another user
	require.NoError(t, reg.Add(ctx, "1", posA))
	require.NoError(t, reg.Add(ctx, "2", posA))
	snap, err = reg.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count())
	for _, user := range []string{"1", "2"} {
		ok, err = reg.Remove(ctx, user, posA.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestFileRegistry(t *testing.T) {
	reg, err := NewFileRegistry(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)
	registryContract(t, reg)
}

func TestFileRegistryPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "positions.json")
	reg, err := NewFileRegistry(path)
	require.NoError(t, err)
	pos := newPosition("AAA", 1700000000)
	require.NoError(t, reg.Add(ctx, "7", pos))
	_, err = reg.Update(ctx, "7", pos.ID, model.PositionPatch{StopLoss: model.Float(0), BreakevenMoved: model.Bool(true)})
	require.NoError(t, err)

	reopened, err := NewFileRegistry(path)
	require.NoError(t, err)
	got, found, err := reopened.Get(ctx, "7", pos.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.BreakevenMoved)
	assert.Equal(t, 0.0, got.StopLoss)
	assert.Equal(t, "7", got.UserID)
}

func TestFileRegistryReadsLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	legacy := `{"123": [{"id": "Tok_1700000000", "contract_address": "Tok", "invested_sol": 0.5,
		"token_amount": 100, "entry_price": 0.01, "current_price": 0.01, "pnl": 0.0, "sl": 15,
		"tp_levels": [{"level": 1.5, "volume_percent": 25}], "breakeven_percent": 15,
		"slippage_percent": 5.0, "transaction_hash": "abc", "timestamp": 1700000000.5,
		"breakeven_moved": false, "tp_executed": []}]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	reg, err := NewFileRegistry(path)
	require.NoError(t, err)
	list, err := reg.List(context.Background(), "123")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Tok", list[0].ContractAddress)
	assert.Equal(t, 0.01, list[0].EntryPrice)
	assert.Equal(t, []model.TakeProfitRung{{Level: 1.5, VolumePercent: 25}}, list[0].TakeProfitLevels)
}

func TestFileRegistryConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	reg, err := NewFileRegistry(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)
	pos := newPosition("AAA", 1700000000)
	require.NoError(t, reg.Add(ctx, "1", pos))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Update(ctx, "1", pos.ID, model.PositionPatch{ExecutedRung: model.Int(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, _, err := reg.Get(ctx, "1", pos.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, got.TakeProfitExecuted)
}

func TestPositionRepository(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	rep := &PositionRepository{Pool: pool}
	require.NoError(t, rep.Migrate(ctx))
	_, err = pool.Exec(ctx, "DELETE FROM positions WHERE user_id IN ('1','2')")
	require.NoError(t, err)
	registryContract(t, rep)
}
