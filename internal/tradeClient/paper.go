package tradeClient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/model"
)

// PriceFunc price lookup used by paper fills
type PriceFunc func(ctx context.Context, contract string) (float64, bool)

// Paper in memory trader, used for dry run
type Paper struct {
	mu       sync.Mutex
	sol      float64
	balances map[string]float64
	price    PriceFunc
	sells    []SellRequest
	buys     []BuyRequest

	// FailSells count of next sells that fail
	FailSells int
	// FailBalances count of next token balance queries that fail
	FailBalances int
	// FailAccount account balance query fails
	FailAccount bool
	// SellDelay latency of sell
	SellDelay time.Duration
}

// NewPaper Constructor
func NewPaper(sol float64, price PriceFunc) *Paper {
	return &Paper{
		sol:      sol,
		balances: make(map[string]float64),
		price:    price,
	}
}

// SetBalance set token balance of wallet
func (p *Paper) SetBalance(contract string, tokens float64) {
	p.mu.Lock()
	p.balances[contract] = tokens
	p.mu.Unlock()
}

// Buy spend SOL on tokens at current price
func (p *Paper) Buy(ctx context.Context, req BuyRequest) (Result, error) {
	price, ok := p.lookup(ctx, req.Contract)
	if !ok {
		return Result{Error: "no price"}, errors.Wrapf(model.ErrTradeFailed, "paper / Buy / no price for %s", req.Contract)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.AmountSOL > p.sol {
		return Result{Error: "insufficient SOL"}, errors.Wrap(model.ErrTradeFailed, "paper / Buy / insufficient SOL")
	}
	p.sol -= req.AmountSOL
	p.balances[req.Contract] += req.AmountSOL / price
	p.buys = append(p.buys, req)
	return Result{Success: true, Signature: "paper-" + uuid.New().String()}, nil
}

// Sell tokens at current price
func (p *Paper) Sell(ctx context.Context, req SellRequest) (Result, error) {
	if p.SellDelay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, errors.Wrap(ctx.Err(), "paper / Sell")
		case <-time.After(p.SellDelay):
		}
	}
	price, _ := p.lookup(ctx, req.Contract)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSells > 0 {
		p.FailSells--
		return Result{Error: "injected failure"}, errors.Wrap(model.ErrTradeFailed, "paper / Sell / injected failure")
	}
	held := p.balances[req.Contract]
	if req.Tokens <= 0 || req.Tokens > held*(1+1e-9) {
		return Result{Error: "insufficient tokens"}, errors.Wrapf(model.ErrTradeFailed, "paper / Sell / have %v want %v", held, req.Tokens)
	}
	p.balances[req.Contract] = held - req.Tokens
	if p.balances[req.Contract] < 0 {
		p.balances[req.Contract] = 0
	}
	p.sol += req.Tokens * price
	p.sells = append(p.sells, req)
	logrus.WithField("contract", req.Contract).Debugf("paper / Sell / %v tokens", req.Tokens)
	return Result{Success: true, Signature: "paper-" + uuid.New().String()}, nil
}

// TokenBalance tokens held
func (p *Paper) TokenBalance(_ context.Context, contract string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailBalances > 0 {
		p.FailBalances--
		return 0, errors.New("paper / TokenBalance / injected failure")
	}
	return p.balances[contract], nil
}

// AccountBalance SOL held
func (p *Paper) AccountBalance(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAccount {
		return 0, errors.New("paper / AccountBalance / unreachable")
	}
	return p.sol, nil
}

// Sells executed sells
func (p *Paper) Sells() []SellRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SellRequest(nil), p.sells...)
}

// Buys executed buys
func (p *Paper) Buys() []BuyRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BuyRequest(nil), p.buys...)
}

func (p *Paper) lookup(ctx context.Context, contract string) (float64, bool) {
	if p.price == nil {
		return 0, false
	}
	return p.price(ctx, contract)
}
