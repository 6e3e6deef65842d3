// Package tradeClient trade execution collaborators: trade api client and paper trader
package tradeClient

import (
	"github.com/pkg/errors"

	"github.com/mrdjehknhc/axtest/internal/model"
)

// BuyRequest buy token for SOL
type BuyRequest struct {
	Contract        string  `json:"token_mint"`
	AmountSOL       float64 `json:"amount_sol"`
	SlippagePercent float64 `json:"slippage_percent"`
}

// SellRequest sell tokens for SOL
type SellRequest struct {
	Contract        string  `json:"token_mint"`
	Tokens          float64 `json:"amount_tokens"`
	SlippagePercent float64 `json:"slippage_percent"`
}

// Result of trade
type Result struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Err non nil when trade wasn't successful
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return model.ErrTradeFailed
	}
	return errors.Wrap(model.ErrTradeFailed, r.Error)
}
