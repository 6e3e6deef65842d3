package service

import (
	"fmt"
	"math"

	"github.com/mrdjehknhc/axtest/internal/model"
)

// TakeProfitAction rung that should be executed
type TakeProfitAction struct {
	Index         int
	Level         float64
	VolumePercent float64
	// FullExit rung sells whole balance
	FullExit bool
}

// Decision result of trigger evaluation
type Decision struct {
	PnL           float64
	StopLoss      bool
	MoveBreakeven bool
	TakeProfit    *TakeProfitAction
	Warnings      []string
}

// None nothing to do
func (d Decision) None() bool {
	return !d.StopLoss && !d.MoveBreakeven && d.TakeProfit == nil
}

// Kinds names of actions for logs and metrics
func (d Decision) Kinds() []string {
	var kinds []string
	if d.StopLoss {
		kinds = append(kinds, actionStopLoss)
	}
	if d.MoveBreakeven {
		kinds = append(kinds, actionBreakeven)
	}
	if d.TakeProfit != nil {
		kinds = append(kinds, actionTakeProfit)
	}
	return kinds
}

// PnLPercent change of price from entry in percent
func PnLPercent(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (price - entry) / entry * 100
}

// Evaluate decide automated actions for position at price. Pure, position isn't changed.
// Stop-loss wins over everything else, breakeven and one take-profit rung may fire together
func Evaluate(pos model.Position, price float64) Decision {
	var d Decision
	if pos.EntryPrice <= 0 || price <= 0 || math.IsNaN(price) {
		d.Warnings = append(d.Warnings, fmt.Sprintf("invalid entry price %v or price %v", pos.EntryPrice, price))
		return d
	}
	d.PnL = PnLPercent(pos.EntryPrice, price)

	if pos.StopLoss < 0 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("invalid stop-loss %v, check skipped", pos.StopLoss))
	} else if d.PnL <= -pos.StopLoss {
		d.StopLoss = true
		return d
	}

	if !pos.BreakevenMoved {
		if pos.BreakevenPercent <= 0 {
			d.Warnings = append(d.Warnings, fmt.Sprintf("invalid breakeven %v, check skipped", pos.BreakevenPercent))
		} else if d.PnL >= pos.BreakevenPercent {
			d.MoveBreakeven = true
		}
	}

	for i, rung := range pos.TakeProfitLevels {
		if pos.RungExecuted(i) {
			continue
		}
		if !rung.Valid() {
			d.Warnings = append(d.Warnings, fmt.Sprintf("invalid take-profit rung %d: level %v volume %v", i, rung.Level, rung.VolumePercent))
			continue
		}
		if d.PnL >= rung.TriggerPercent() {
			d.TakeProfit = &TakeProfitAction{
				Index:         i,
				Level:         rung.Level,
				VolumePercent: rung.VolumePercent,
				FullExit:      rung.VolumePercent >= 100,
			}
			break
		}
	}
	return d
}
