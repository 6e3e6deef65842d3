package service

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/metrics"
	"github.com/mrdjehknhc/axtest/internal/model"
)

// DefaultInterval pause between monitoring cycles
const DefaultInterval = 30 * time.Second

// Stats state of monitoring
type Stats struct {
	Running        bool          `json:"running"`
	Interval       time.Duration `json:"interval"`
	TotalPositions int           `json:"total_positions"`
	ActiveUsers    int           `json:"active_users"`
	SessionActive  bool          `json:"session_active"`
}

// Monitor periodic pass over all positions: refresh price and pnl, evaluate triggers, execute decisions
type Monitor struct {
	Registry Registry
	Prices   PriceSource
	Trader   Trader
	Executor *Executor
	Interval time.Duration
	// CtxApp parent of loop context, loop outlives the request that started it
	CtxApp context.Context
	// OnStateChange called after loop started or stopped
	OnStateChange func(running bool)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor Constructor
func NewMonitor(ctxApp context.Context, registry Registry, prices PriceSource, trader Trader, executor *Executor, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		Registry: registry,
		Prices:   prices,
		Trader:   trader,
		Executor: executor,
		Interval: interval,
		CtxApp:   ctxApp,
	}
}

// Start loop. Trade api must answer first, otherwise loop isn't started. Second start is a no-op
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		logrus.Warn("monitor / Start / already running, skip")
		return nil
	}
	balance, err := m.Trader.AccountBalance(ctx)
	if err != nil {
		return errors.Wrap(err, "monitor / Start / trade api unreachable")
	}
	logrus.WithField("sol", balance).Infof("monitor / Start / interval %v", m.Interval)

	m.Prices.Open()
	parent := m.CtxApp
	if parent == nil {
		parent = context.Background()
	}
	loopCtx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(loopCtx)

	metrics.SetRunning(true)
	if m.OnStateChange != nil {
		m.OnStateChange(true)
	}
	return nil
}

// Stop loop and wait for current cycle to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	logrus.Info("monitor / Stop")
	m.cancel()
	m.wg.Wait()
	m.running = false
	if err := m.Prices.Close(); err != nil {
		logrus.WithError(err).Warn("monitor / Stop / close price session")
	}
	metrics.SetRunning(false)
	if m.OnStateChange != nil {
		m.OnStateChange(false)
	}
	logrus.Info("monitor / stopped")
}

// IsRunning loop state
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// G run cycles until ctx done
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		m.Cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.Interval):
		}
	}
}

// Cycle one pass over snapshot of all positions. Failure of one position doesn't affect others
func (m *Monitor) Cycle(ctx context.Context) {
	started := time.Now()
	snap, err := m.Registry.All(ctx)
	if err != nil {
		logrus.WithError(err).Error("monitor / Cycle / snapshot")
		return
	}
	users := make([]string, 0, len(snap))
	for user := range snap {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		for _, pos := range snap[user] {
			if ctx.Err() != nil {
				return
			}
			if err := m.safeCheck(ctx, user, pos); err != nil {
				entry := logrus.WithError(err).WithFields(logrus.Fields{"user": user, "position": pos.ID})
				if errors.Is(err, model.ErrPriceUnavailable) {
					entry.Debug("monitor / Cycle / skip position")
				} else {
					entry.Error("monitor / Cycle / check position")
				}
			}
		}
	}
	metrics.ObserveCycle(time.Since(started), snap.Count())
}

func (m *Monitor) safeCheck(ctx context.Context, userID string, pos model.Position) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor / panic on position %s : %v\n%s", pos.ID, r, debug.Stack())
		}
	}()
	return m.checkPosition(ctx, userID, pos)
}

func (m *Monitor) checkPosition(ctx context.Context, userID string, pos model.Position) error {
	price, ok := m.Prices.Price(ctx, pos.ContractAddress)
	metrics.PriceLookup(ok)
	if !ok {
		return errors.Wrapf(model.ErrPriceUnavailable, "contract %s", pos.ContractAddress)
	}
	if pos.EntryPrice <= 0 {
		logrus.WithFields(logrus.Fields{"user": userID, "position": pos.ID}).Warn("monitor / invalid entry price, skip")
		return nil
	}
	pnl := PnLPercent(pos.EntryPrice, price)
	found, err := m.Registry.Update(ctx, userID, pos.ID, model.PositionPatch{
		CurrentPrice: model.Float(price),
		PnL:          model.Float(pnl),
	})
	if err != nil {
		return errors.Wrap(err, "monitor / update price")
	}
	if !found {
		return nil
	}
	pos.CurrentPrice = price
	pos.PnL = pnl
	logrus.WithFields(logrus.Fields{"contract": pos.ShortContract(), "price": price, "pnl": pnl}).Debug("monitor / price updated")

	d := Evaluate(pos, price)
	for _, w := range d.Warnings {
		logrus.WithFields(logrus.Fields{"user": userID, "position": pos.ID}).Warn("monitor / ", w)
	}
	if d.None() {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"user":     userID,
		"contract": pos.ShortContract(),
		"pnl":      pnl,
		"actions":  d.Kinds(),
	}).Info("monitor / triggers fired")
	return m.Executor.Apply(ctx, userID, pos, price)
}

// ForceCheck immediate check of user position on contract, or of every position of user when contract is empty.
// Ignores cadence and running state
func (m *Monitor) ForceCheck(ctx context.Context, userID, contract string) error {
	positions, err := m.Registry.List(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "monitor / ForceCheck / list")
	}
	if contract == "" {
		var first error
		for _, pos := range positions {
			if err = m.safeCheck(ctx, userID, pos); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	for _, pos := range positions {
		if pos.ContractAddress == contract {
			return m.safeCheck(ctx, userID, pos)
		}
	}
	return errors.Wrapf(model.ErrPositionNotFound, "monitor / ForceCheck / contract %s", contract)
}

// Stats current state
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	snap, err := m.Registry.All(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "monitor / Stats")
	}
	running := m.IsRunning()
	return Stats{
		Running:        running,
		Interval:       m.Interval,
		TotalPositions: snap.Count(),
		ActiveUsers:    len(snap),
		SessionActive:  running && m.Prices.Active(),
	}, nil
}
