package model

import "time"

// Trade actions written to trade journal
const (
	ActionOpen  = "open"
	ActionClose = "close"
	ActionSL    = "sl"
	ActionTP    = "tp"
	ActionPanic = "panic"

	// ActionPartial manual sale of part of position
	ActionPartial = "partial"
)

// TradeRecord one row of trade history
type TradeRecord struct {
	ID              string
	UserID          string
	PositionID      string
	ContractAddress string
	Action          string
	AmountSOL       float64
	TokenAmount     float64
	Price           float64
	PnLPercent      float64
	PnLSOL          float64
	Time            time.Time
	Details         string
}

// Closing action finishes a position in statistics
func (t *TradeRecord) Closing() bool {
	return t.Action == ActionClose || t.Action == ActionSL || t.Action == ActionPanic
}
