package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/locker"
	"github.com/mrdjehknhc/axtest/internal/metrics"
	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/tradeClient"
)

const (
	actionStopLoss   = "stop_loss"
	actionBreakeven  = "breakeven"
	actionTakeProfit = "take_profit"
	actionClose      = "close"
	actionCheck      = "check"

	bookkeepingAttempts = 3
	defaultRetryDelay   = 200 * time.Millisecond

	// DefaultDust balance below which position is treated as empty
	DefaultDust = 0.0001
)

// Executor turns decisions and manual commands into trades and registry changes.
// Every action runs under position lock and re-reads position after the lock is taken
type Executor struct {
	Registry Registry
	Trader   Trader
	Locker   locker.Locker
	Events   events.Publisher
	Retries  *RetryTracker
	Dust     float64
	// RetryDelay pause between attempts of bookkeeping writes after a sale
	RetryDelay time.Duration

	mu      sync.Mutex
	pending map[rungKey]struct{}
}

// rungKey take-profit rung that was sold but isn't recorded yet
type rungKey struct {
	userID     string
	positionID string
	index      int
}

// NewExecutor Constructor
func NewExecutor(registry Registry, trader Trader, lock locker.Locker, publisher events.Publisher, maxRetries int, dust float64) *Executor {
	if dust <= 0 {
		dust = DefaultDust
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Executor{
		Registry:   registry,
		Trader:     trader,
		Locker:     lock,
		Events:     publisher,
		Retries:    NewRetryTracker(maxRetries),
		Dust:       dust,
		RetryDelay: defaultRetryDelay,
		pending:    make(map[rungKey]struct{}),
	}
}

// Apply re-evaluate triggers at price on the locked position and execute what still fires.
// Stop-loss is exclusive, breakeven runs before take-profit.
// Failed action leaves position unchanged so trigger fires again next cycle
func (e *Executor) Apply(ctx context.Context, userID string, pos model.Position, price float64) error {
	var result error
	err := e.withPosition(ctx, userID, pos.ID, func(cur model.Position) error {
		cur.CurrentPrice = price
		cur.PnL = PnLPercent(cur.EntryPrice, price)
		d := Evaluate(cur, price)
		if d.None() {
			logrus.WithFields(logrus.Fields{"user": userID, "position": cur.ID, "pnl": cur.PnL}).Debug("executor / triggers no longer fire, skip")
			return nil
		}
		if d.StopLoss {
			result = e.act(userID, cur.ID, actionStopLoss, func() error {
				return e.closeAll(ctx, userID, cur, events.ReasonSL)
			})
			return nil
		}
		if d.MoveBreakeven {
			result = e.act(userID, cur.ID, actionBreakeven, func() error {
				return e.moveBreakeven(ctx, userID, cur)
			})
		}
		if d.TakeProfit != nil {
			tp := *d.TakeProfit
			if err := e.act(userID, cur.ID, actionTakeProfit, func() error {
				return e.takeProfit(ctx, userID, cur, tp)
			}); err != nil && result == nil {
				result = err
			}
		}
		return nil
	})
	if err != nil {
		e.failed(userID, pos.ID, actionCheck, err)
		return err
	}
	return result
}

// Close manual full or partial close of position
func (e *Executor) Close(ctx context.Context, userID, positionID string, percent float64, reason string) error {
	if percent <= 0 || percent > 100 {
		return errors.Errorf("executor / Close / percent %v out of (0, 100]", percent)
	}
	found := false
	err := e.withPosition(ctx, userID, positionID, func(cur model.Position) error {
		found = true
		if percent >= 100 {
			return e.closeAll(ctx, userID, cur, reason)
		}
		return e.closePart(ctx, userID, cur, percent, reason)
	})
	if err != nil {
		e.failed(userID, positionID, actionClose, err)
		return err
	}
	if !found {
		return errors.Wrapf(model.ErrPositionNotFound, "executor / Close / %s", positionID)
	}
	e.Retries.Reset(userID, positionID, actionClose)
	return nil
}

func (e *Executor) act(userID, positionID, action string, fn func() error) error {
	metrics.Decision(action)
	if err := fn(); err != nil {
		metrics.Execution(action, "failed")
		e.failed(userID, positionID, action, err)
		return err
	}
	metrics.Execution(action, "ok")
	e.Retries.Reset(userID, positionID, action)
	return nil
}

// withPosition lock position and call fn with actual state. Vanished position is a no-op
func (e *Executor) withPosition(ctx context.Context, userID, positionID string, fn func(cur model.Position) error) error {
	unlock, err := e.Locker.Lock(ctx, locker.Key(userID, positionID))
	if err != nil {
		return errors.Wrap(err, "executor / lock position")
	}
	defer unlock()
	cur, found, err := e.Registry.Get(ctx, userID, positionID)
	if err != nil {
		return errors.Wrap(err, "executor / get position")
	}
	if !found {
		logrus.WithFields(logrus.Fields{"user": userID, "position": positionID}).Debug("executor / position vanished, skip")
		return nil
	}
	return fn(cur)
}

func (e *Executor) failed(userID, positionID, action string, err error) {
	count := e.Retries.Failure(userID, positionID, action)
	entry := logrus.WithError(err).WithFields(logrus.Fields{
		"user":     userID,
		"position": positionID,
		"action":   action,
		"attempt":  count,
	})
	switch {
	case e.Retries.Exhausted(count):
		entry.Error("executor / retry budget exhausted, will keep retrying")
		e.Events.Publish(events.Event{
			Type:       events.Error,
			UserID:     userID,
			PositionID: positionID,
			Context:    action + ": retry budget exhausted",
			Message:    fmt.Sprintf("%d consecutive failures: %v", count, err),
		})
	case count == 1:
		entry.Error("executor / action failed")
		e.Events.Publish(events.Event{
			Type:       events.Error,
			UserID:     userID,
			PositionID: positionID,
			Context:    action,
			Message:    err.Error(),
		})
	default:
		entry.Warn("executor / action failed again")
	}
}

func (e *Executor) moveBreakeven(ctx context.Context, userID string, cur model.Position) error {
	if cur.BreakevenMoved {
		return nil
	}
	ok, err := e.Registry.Update(ctx, userID, cur.ID, model.PositionPatch{
		StopLoss:       model.Float(0),
		BreakevenMoved: model.Bool(true),
	})
	if err != nil {
		return errors.Wrap(err, "executor / moveBreakeven / update")
	}
	if !ok {
		return nil
	}
	logrus.WithFields(logrus.Fields{"user": userID, "contract": cur.ShortContract(), "pnl": cur.PnL}).Info("executor / moved to breakeven")
	e.Events.Publish(events.Event{
		Type:       events.Breakeven,
		UserID:     userID,
		PositionID: cur.ID,
		Contract:   cur.ContractAddress,
		PnL:        cur.PnL,
		Price:      cur.CurrentPrice,
	})
	return nil
}

// closeAll sell whole balance and remove position
func (e *Executor) closeAll(ctx context.Context, userID string, cur model.Position, reason string) error {
	balance, err := e.Trader.TokenBalance(ctx, cur.ContractAddress)
	if err != nil {
		return errors.Wrap(err, "executor / closeAll / balance")
	}
	if balance <= 0 {
		return e.removeEmpty(ctx, userID, cur)
	}
	res, err := e.Trader.Sell(ctx, tradeClient.SellRequest{
		Contract:        cur.ContractAddress,
		Tokens:          balance,
		SlippagePercent: cur.SlippagePercent,
	})
	if err != nil {
		return errors.Wrap(err, "executor / closeAll / sell")
	}
	// sale is done, bookkeeping must finish even when caller is cancelled
	ctx = context.WithoutCancel(ctx)
	if _, err = e.Registry.Remove(ctx, userID, cur.ID); err != nil {
		return errors.Wrap(err, "executor / closeAll / remove")
	}
	e.forget(userID, cur.ID)
	logrus.WithFields(logrus.Fields{
		"user":      userID,
		"contract":  cur.ShortContract(),
		"reason":    reason,
		"pnl":       cur.PnL,
		"signature": res.Signature,
	}).Info("executor / position closed")

	base := events.Event{
		UserID:     userID,
		PositionID: cur.ID,
		Contract:   cur.ContractAddress,
		PnL:        cur.PnL,
		PnLSOL:     cur.PnLSOL(),
		AmountSOL:  cur.InvestedSOL,
		Tokens:     balance,
		Price:      cur.CurrentPrice,
		Reason:     reason,
		Volume:     100,
	}
	if reason == events.ReasonSL {
		sl := base
		sl.Type = events.StopLoss
		e.Events.Publish(sl)
	}
	closed := base
	closed.Type = events.PositionClosed
	e.Events.Publish(closed)
	return nil
}

func (e *Executor) takeProfit(ctx context.Context, userID string, cur model.Position, tp TakeProfitAction) error {
	key := rungKey{userID: userID, positionID: cur.ID, index: tp.Index}
	if cur.RungExecuted(tp.Index) {
		e.setPending(key, false)
		return nil
	}
	if e.isPending(key) {
		return e.finishRung(ctx, userID, cur, key)
	}
	if tp.Index >= len(cur.TakeProfitLevels) || cur.TakeProfitLevels[tp.Index].Level != tp.Level {
		logrus.WithFields(logrus.Fields{"user": userID, "position": cur.ID, "rung": tp.Index}).Warn("executor / ladder changed, rung skipped")
		return nil
	}
	balance, err := e.Trader.TokenBalance(ctx, cur.ContractAddress)
	if err != nil {
		return errors.Wrap(err, "executor / takeProfit / balance")
	}
	if balance <= 0 {
		return e.removeEmpty(ctx, userID, cur)
	}
	tokens := balance * tp.VolumePercent / 100
	if tp.FullExit || tokens > balance {
		tokens = balance
	}
	if _, err = e.Trader.Sell(ctx, tradeClient.SellRequest{
		Contract:        cur.ContractAddress,
		Tokens:          tokens,
		SlippagePercent: cur.SlippagePercent,
	}); err != nil {
		return errors.Wrap(err, "executor / takeProfit / sell")
	}
	// rung is sold, it must not be sold again even when recording fails
	e.setPending(key, true)
	ctx = context.WithoutCancel(ctx)
	if err = e.recordRung(ctx, userID, cur.ID, tp.Index); err != nil {
		return errors.Wrap(err, "executor / takeProfit / record rung")
	}
	e.setPending(key, false)
	removed, err := e.reconcile(ctx, userID, cur, balance-tokens)
	if err != nil {
		return errors.Wrap(err, "executor / takeProfit / reconcile")
	}
	logrus.WithFields(logrus.Fields{
		"user":     userID,
		"contract": cur.ShortContract(),
		"rung":     tp.Index,
		"tp_level": tp.Level,
		"pnl":      cur.PnL,
	}).Info("executor / take profit executed")

	base := events.Event{
		UserID:     userID,
		PositionID: cur.ID,
		Contract:   cur.ContractAddress,
		PnL:        cur.PnL,
		PnLSOL:     cur.PnLSOL() * tokens / balance,
		AmountSOL:  cur.InvestedSOL * tokens / balance,
		Tokens:     tokens,
		Price:      cur.CurrentPrice,
		Rung:       tp.Index,
		Level:      tp.Level,
		Volume:     tp.VolumePercent,
		Reason:     events.ReasonTP,
	}
	fired := base
	fired.Type = events.TakeProfit
	e.Events.Publish(fired)
	if removed {
		closed := base
		closed.Type = events.PositionClosed
		e.Events.Publish(closed)
	}
	return nil
}

func (e *Executor) closePart(ctx context.Context, userID string, cur model.Position, percent float64, reason string) error {
	balance, err := e.Trader.TokenBalance(ctx, cur.ContractAddress)
	if err != nil {
		return errors.Wrap(err, "executor / closePart / balance")
	}
	if balance <= 0 {
		return e.removeEmpty(ctx, userID, cur)
	}
	tokens := balance * percent / 100
	if _, err = e.Trader.Sell(ctx, tradeClient.SellRequest{
		Contract:        cur.ContractAddress,
		Tokens:          tokens,
		SlippagePercent: cur.SlippagePercent,
	}); err != nil {
		return errors.Wrap(err, "executor / closePart / sell")
	}
	ctx = context.WithoutCancel(ctx)
	if _, err = e.reconcile(ctx, userID, cur, balance-tokens); err != nil {
		return errors.Wrap(err, "executor / closePart / reconcile")
	}
	e.Events.Publish(events.Event{
		Type:       events.PositionClosed,
		UserID:     userID,
		PositionID: cur.ID,
		Contract:   cur.ContractAddress,
		PnL:        cur.PnL,
		PnLSOL:     cur.PnLSOL() * percent / 100,
		AmountSOL:  cur.InvestedSOL * percent / 100,
		Tokens:     tokens,
		Price:      cur.CurrentPrice,
		Reason:     reason,
		Volume:     percent,
	})
	return nil
}

// reconcile re-query balance after partial sale. Position is removed when dust remains.
// expected is used when balance query fails
func (e *Executor) reconcile(ctx context.Context, userID string, cur model.Position, expected float64) (bool, error) {
	remaining, err := e.Trader.TokenBalance(ctx, cur.ContractAddress)
	if err != nil {
		logrus.WithError(err).WithField("position", cur.ID).Warn("executor / reconcile / balance query failed, using expected")
		remaining = expected
	}
	if remaining <= e.Dust {
		if _, err = e.Registry.Remove(ctx, userID, cur.ID); err != nil {
			return false, err
		}
		e.forget(userID, cur.ID)
		logrus.WithField("position", cur.ID).Info("executor / minimal tokens left, position removed")
		return true, nil
	}
	_, err = e.Registry.Update(ctx, userID, cur.ID, model.PositionPatch{TokenAmount: model.Float(remaining)})
	return false, err
}

func (e *Executor) removeEmpty(ctx context.Context, userID string, cur model.Position) error {
	if _, err := e.Registry.Remove(ctx, userID, cur.ID); err != nil {
		return errors.Wrap(err, "executor / removeEmpty")
	}
	e.forget(userID, cur.ID)
	logrus.WithError(model.ErrNoTokens).WithField("position", cur.ID).Warn("executor / position removed")
	e.Events.Publish(events.Event{
		Type:       events.PositionClosed,
		UserID:     userID,
		PositionID: cur.ID,
		Contract:   cur.ContractAddress,
		PnL:        cur.PnL,
		Reason:     events.ReasonEmpty,
		Message:    model.ErrNoTokens.Error(),
	})
	return nil
}

// recordRung mark rung executed, retried on failure
func (e *Executor) recordRung(ctx context.Context, userID, positionID string, index int) error {
	var err error
	for attempt := 1; attempt <= bookkeepingAttempts; attempt++ {
		if _, err = e.Registry.Update(ctx, userID, positionID, model.PositionPatch{ExecutedRung: model.Int(index)}); err == nil {
			return nil
		}
		logrus.WithError(err).WithFields(logrus.Fields{"position": positionID, "rung": index, "attempt": attempt}).Warn("executor / record rung failed")
		if attempt < bookkeepingAttempts && e.RetryDelay > 0 {
			time.Sleep(e.RetryDelay)
		}
	}
	return err
}

// finishRung record rung sold on earlier cycle, without selling again
func (e *Executor) finishRung(ctx context.Context, userID string, cur model.Position, key rungKey) error {
	ctx = context.WithoutCancel(ctx)
	if err := e.recordRung(ctx, userID, cur.ID, key.index); err != nil {
		return errors.Wrap(err, "executor / takeProfit / record sold rung")
	}
	e.setPending(key, false)
	logrus.WithFields(logrus.Fields{"user": userID, "position": cur.ID, "rung": key.index}).Info("executor / sold rung recorded")
	if _, err := e.reconcile(ctx, userID, cur, cur.TokenAmount); err != nil {
		return errors.Wrap(err, "executor / takeProfit / reconcile")
	}
	return nil
}

func (e *Executor) isPending(key rungKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[key]
	return ok
}

func (e *Executor) setPending(key rungKey, sold bool) {
	e.mu.Lock()
	if sold {
		e.pending[key] = struct{}{}
	} else {
		delete(e.pending, key)
	}
	e.mu.Unlock()
}

// forget position was removed
func (e *Executor) forget(userID, positionID string) {
	e.Retries.Forget(userID, positionID)
	e.mu.Lock()
	for k := range e.pending {
		if k.userID == userID && k.positionID == positionID {
			delete(e.pending, k)
		}
	}
	e.mu.Unlock()
}
