// Package model
package model

import (
	"fmt"
	"math"
	"time"
)

// TakeProfitRung one step of take-profit ladder. Level is a price multiple of entry price,
// VolumePercent is share of current token balance to sell when the level is reached
type TakeProfitRung struct {
	Level         float64 `json:"level" toml:"level"`
	VolumePercent float64 `json:"volume_percent" toml:"volume_percent"`
}

// TriggerPercent pnl percent from which rung is reached
func (r TakeProfitRung) TriggerPercent() float64 {
	return (r.Level - 1) * 100
}

// Valid rung with level <= 1 can never be reached in a meaningful way
func (r TakeProfitRung) Valid() bool {
	return r.Level > 1 && r.VolumePercent > 0 && !math.IsNaN(r.Level) && !math.IsNaN(r.VolumePercent)
}

// Position model tracked holding of one user
type Position struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id,omitempty"`
	ContractAddress    string           `json:"contract_address"`
	InvestedSOL        float64          `json:"invested_sol"`
	TokenAmount        float64          `json:"token_amount"`
	EntryPrice         float64          `json:"entry_price"`
	CurrentPrice       float64          `json:"current_price"`
	PnL                float64          `json:"pnl"`
	StopLoss           float64          `json:"sl"`
	TakeProfitLevels   []TakeProfitRung `json:"tp_levels"`
	BreakevenPercent   float64          `json:"breakeven_percent"`
	SlippagePercent    float64          `json:"slippage_percent"`
	TransactionHash    string           `json:"transaction_hash"`
	Timestamp          float64          `json:"timestamp"`
	BreakevenMoved     bool             `json:"breakeven_moved"`
	TakeProfitExecuted []int            `json:"tp_executed"`
}

// NewPositionID id format "<contract>_<unix seconds>"
func NewPositionID(contract string, at time.Time) string {
	return fmt.Sprintf("%s_%d", contract, at.Unix())
}

// OpenedAt time of open
func (p *Position) OpenedAt() time.Time {
	sec, frac := math.Modf(p.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// RungExecuted check rung index in executed set
func (p *Position) RungExecuted(index int) bool {
	for _, i := range p.TakeProfitExecuted {
		if i == index {
			return true
		}
	}
	return false
}

// ShortContract first 8 symbols of contract for logs and messages
func (p *Position) ShortContract() string {
	if len(p.ContractAddress) <= 8 {
		return p.ContractAddress
	}
	return p.ContractAddress[:8] + "..."
}

// PnLSOL pnl in SOL from invested amount
func (p *Position) PnLSOL() float64 {
	return p.InvestedSOL * p.PnL / 100
}

// Clone deep copy, slices are not shared with the source
func (p Position) Clone() Position {
	if p.TakeProfitLevels != nil {
		p.TakeProfitLevels = append([]TakeProfitRung(nil), p.TakeProfitLevels...)
	}
	if p.TakeProfitExecuted != nil {
		p.TakeProfitExecuted = append([]int{}, p.TakeProfitExecuted...)
	}
	return p
}

// PositionPatch partial update of position. Nil field is left unchanged
type PositionPatch struct {
	TokenAmount      *float64
	CurrentPrice     *float64
	PnL              *float64
	StopLoss         *float64
	BreakevenPercent *float64
	BreakevenMoved   *bool
	TakeProfitLevels []TakeProfitRung
	ExecutedRung     *int
}

// Empty patch without fields
func (pp PositionPatch) Empty() bool {
	return pp.TokenAmount == nil && pp.CurrentPrice == nil && pp.PnL == nil && pp.StopLoss == nil &&
		pp.BreakevenPercent == nil && pp.BreakevenMoved == nil && pp.TakeProfitLevels == nil && pp.ExecutedRung == nil
}

// Apply merge patch into position.
// breakeven_moved can only go false -> true, executed rungs are unioned and never removed
func (p *Position) Apply(pp PositionPatch) {
	if pp.TokenAmount != nil {
		p.TokenAmount = math.Max(*pp.TokenAmount, 0)
	}
	if pp.CurrentPrice != nil {
		p.CurrentPrice = *pp.CurrentPrice
	}
	if pp.PnL != nil {
		p.PnL = *pp.PnL
	}
	if pp.StopLoss != nil {
		p.StopLoss = *pp.StopLoss
	}
	if pp.BreakevenPercent != nil {
		p.BreakevenPercent = *pp.BreakevenPercent
	}
	if pp.BreakevenMoved != nil && *pp.BreakevenMoved {
		p.BreakevenMoved = true
	}
	if pp.TakeProfitLevels != nil {
		p.TakeProfitLevels = append([]TakeProfitRung(nil), pp.TakeProfitLevels...)
	}
	if pp.ExecutedRung != nil && !p.RungExecuted(*pp.ExecutedRung) {
		p.TakeProfitExecuted = append(p.TakeProfitExecuted, *pp.ExecutedRung)
	}
}

// Float pointer helper for patches
func Float(v float64) *float64 { return &v }

// Bool pointer helper for patches
func Bool(v bool) *bool { return &v }

// Int pointer helper for patches
func Int(v int) *int { return &v }

// Snapshot all positions grouped by user
type Snapshot map[string][]Position

// Count total positions in snapshot
func (s Snapshot) Count() int {
	n := 0
	for _, list := range s {
		n += len(list)
	}
	return n
}
