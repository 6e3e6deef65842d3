package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPosition() Position {
	return Position{
		ID:                 "So1aNa_1700000000",
		UserID:             "42",
		ContractAddress:    "So1aNa",
		InvestedSOL:        1.5,
		TokenAmount:        1000,
		EntryPrice:         0.001,
		CurrentPrice:       0.001,
		StopLoss:           15,
		TakeProfitLevels:   []TakeProfitRung{{Level: 1.5, VolumePercent: 25}, {Level: 2, VolumePercent: 50}},
		BreakevenPercent:   15,
		SlippagePercent:    5,
		TransactionHash:    "sig",
		Timestamp:          1700000000.25,
		TakeProfitExecuted: []int{},
	}
}

func TestPositionJSONFormat(t *testing.T) {
	pos := testPosition()
	data, err := json.Marshal(pos)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "contract_address", "invested_sol", "token_amount", "entry_price",
		"current_price", "pnl", "sl", "tp_levels", "breakeven_percent", "slippage_percent",
		"transaction_hash", "timestamp", "breakeven_moved", "tp_executed"} {
		assert.Contains(t, raw, key)
	}

	var back Position
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, pos, back)
}

func TestApplyMerge(t *testing.T) {
	pos := testPosition()
	pos.Apply(PositionPatch{CurrentPrice: Float(0.002), PnL: Float(100)})
	assert.Equal(t, 0.002, pos.CurrentPrice)
	assert.Equal(t, 100.0, pos.PnL)
	assert.Equal(t, 15.0, pos.StopLoss)
	assert.Equal(t, 1000.0, pos.TokenAmount)
}

func TestApplyBreakevenMonotonic(t *testing.T) {
	pos := testPosition()
	pos.Apply(PositionPatch{StopLoss: Float(0), BreakevenMoved: Bool(true)})
	require.True(t, pos.BreakevenMoved)
	assert.Equal(t, 0.0, pos.StopLoss)

	pos.Apply(PositionPatch{BreakevenMoved: Bool(false)})
	assert.True(t, pos.BreakevenMoved)
}

func TestApplyExecutedRungUnion(t *testing.T) {
	pos := testPosition()
	pos.Apply(PositionPatch{ExecutedRung: Int(1)})
	pos.Apply(PositionPatch{ExecutedRung: Int(1)})
	pos.Apply(PositionPatch{ExecutedRung: Int(0)})
	assert.Equal(t, []int{1, 0}, pos.TakeProfitExecuted)
	assert.True(t, pos.RungExecuted(0))
	assert.False(t, pos.RungExecuted(2))
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	pos := testPosition()
	cp := pos.Clone()
	cp.TakeProfitLevels[0].Level = 9
	cp.Apply(PositionPatch{ExecutedRung: Int(0)})
	assert.Equal(t, 1.5, pos.TakeProfitLevels[0].Level)
	assert.Empty(t, pos.TakeProfitExecuted)
}

func TestNewPositionID(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "So1aNa_1700000000", NewPositionID("So1aNa", at))
	pos := testPosition()
	assert.Equal(t, int64(1700000000), pos.OpenedAt().Unix())
}

func TestParseTakeProfitLadder(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []TakeProfitRung
		err   bool
	}{
		{name: "plain", input: "1.5:25,2:30", want: []TakeProfitRung{{1.5, 25}, {2, 30}}},
		{name: "spaces", input: " 1.5 : 25 , 2 : 30 ", want: []TakeProfitRung{{1.5, 25}, {2, 30}}},
		{name: "trailing comma", input: "3:100,", want: []TakeProfitRung{{3, 100}}},
		{name: "level one", input: "1:25", err: true},
		{name: "zero volume", input: "2:0", err: true},
		{name: "over 100", input: "2:101", err: true},
		{name: "sum over 100", input: "2:60,3:50", err: true},
		{name: "no separator", input: "2", err: true},
		{name: "empty", input: "  ", err: true},
		{name: "garbage", input: "x:y", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTakeProfitLadder(tt.input)
			if tt.err {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRung))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 15.0, s.StopLoss)
	assert.Len(t, s.TakeProfitLevels, 4)
	assert.True(t, s.Notifications.Errors)
	assert.False(t, s.Notifications.DailySummary)
	assert.Equal(t, "1.5x (25%), 2x (25%), 5x (25%), 8x (25%)", FormatLadder(s.TakeProfitLevels))
}
