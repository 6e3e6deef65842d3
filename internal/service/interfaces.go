// Package service
package service

import (
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/tradeClient"
)

// Registry persistent store of positions per user
type Registry interface {
	Add(ctx context.Context, userID string, position model.Position) error
	List(ctx context.Context, userID string) ([]model.Position, error)
	Get(ctx context.Context, userID, positionID string) (model.Position, bool, error)
	Update(ctx context.Context, userID, positionID string, patch model.PositionPatch) (bool, error)
	Remove(ctx context.Context, userID, positionID string) (bool, error)
	All(ctx context.Context) (model.Snapshot, error)
}

// PriceSource current price of contract. false means unavailable, price is never zero
type PriceSource interface {
	Price(ctx context.Context, contract string) (float64, bool)
	Open()
	Active() bool
	Close() error
}

// Trader trade execution collaborator
type Trader interface {
	Buy(ctx context.Context, req tradeClient.BuyRequest) (tradeClient.Result, error)
	Sell(ctx context.Context, req tradeClient.SellRequest) (tradeClient.Result, error)
	TokenBalance(ctx context.Context, contract string) (float64, error)
	AccountBalance(ctx context.Context) (float64, error)
}

// SettingsProvider defaults of user for new positions
type SettingsProvider interface {
	Get(userID string) model.UserSettings
}
