package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/locker"
	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/tradeClient"
)

// DefaultSettleDelay wait after buy before token balance is read
const DefaultSettleDelay = 3 * time.Second

const maxIDAttempts = 10

// OpenOverrides per position values instead of user settings
type OpenOverrides struct {
	StopLoss         *float64
	BreakevenPercent *float64
	SlippagePercent  *float64
	TakeProfitLevels []model.TakeProfitRung
}

// SettingsPatch edit of automation settings of open position
type SettingsPatch struct {
	StopLoss         *float64
	BreakevenPercent *float64
	TakeProfitLevels []model.TakeProfitRung
}

// PositionsService manual commands on positions
type PositionsService struct {
	Registry    Registry
	Prices      PriceSource
	Trader      Trader
	Settings    SettingsProvider
	Executor    *Executor
	Locker      locker.Locker
	Events      events.Publisher
	SettleDelay time.Duration
	now         func() time.Time
}

// NewPositionsService Constructor
func NewPositionsService(registry Registry, prices PriceSource, trader Trader, settings SettingsProvider, executor *Executor) *PositionsService {
	return &PositionsService{
		Registry:    registry,
		Prices:      prices,
		Trader:      trader,
		Settings:    settings,
		Executor:    executor,
		Locker:      executor.Locker,
		Events:      executor.Events,
		SettleDelay: DefaultSettleDelay,
		now:         time.Now,
	}
}

// OpenPosition buy token for amountSOL and start tracking position
func (p *PositionsService) OpenPosition(ctx context.Context, userID, contract string, amountSOL float64, overrides *OpenOverrides) (model.Position, error) {
	logrus.WithFields(logrus.Fields{"user": userID, "contract": contract}).Debug("Position service / OpenPosition")
	pos, err := p.openPosition(ctx, userID, contract, amountSOL, overrides)
	if err != nil {
		p.Events.Publish(events.Event{
			Type:     events.Error,
			UserID:   userID,
			Contract: contract,
			Context:  "open position",
			Message:  err.Error(),
		})
		return model.Position{}, err
	}
	return pos, nil
}

func (p *PositionsService) openPosition(ctx context.Context, userID, contract string, amountSOL float64, overrides *OpenOverrides) (model.Position, error) {
	if amountSOL <= 0 {
		return model.Position{}, fmt.Errorf("service position / OpenPosition / amount must be positive : %v", amountSOL)
	}
	settings := p.Settings.Get(userID)
	sl, be, slippage, ladder := settings.StopLoss, settings.BreakevenPercent, settings.SlippagePercent, settings.TakeProfitLevels
	if overrides != nil {
		if overrides.StopLoss != nil {
			sl = *overrides.StopLoss
		}
		if overrides.BreakevenPercent != nil {
			be = *overrides.BreakevenPercent
		}
		if overrides.SlippagePercent != nil {
			slippage = *overrides.SlippagePercent
		}
		if overrides.TakeProfitLevels != nil {
			ladder = overrides.TakeProfitLevels
		}
	}

	entry, ok := p.Prices.Price(ctx, contract)
	if !ok {
		return model.Position{}, errors.Wrapf(model.ErrPriceUnavailable, "service position / OpenPosition / %s", contract)
	}
	res, err := p.Trader.Buy(ctx, tradeClient.BuyRequest{
		Contract:        contract,
		AmountSOL:       amountSOL,
		SlippagePercent: slippage,
	})
	if err != nil {
		return model.Position{}, errors.Wrap(err, "service position / OpenPosition / buy")
	}
	if p.SettleDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(p.SettleDelay):
		}
	}
	bought := context.WithoutCancel(ctx)
	tokens, err := p.Trader.TokenBalance(bought, contract)
	if err != nil {
		logrus.WithError(err).Warn("service position / OpenPosition / balance after buy, tracking with zero tokens")
	}
	now := p.now()
	pos := model.Position{
		ID:                 model.NewPositionID(contract, now),
		UserID:             userID,
		ContractAddress:    contract,
		InvestedSOL:        amountSOL,
		TokenAmount:        tokens,
		EntryPrice:         entry,
		CurrentPrice:       entry,
		StopLoss:           sl,
		TakeProfitLevels:   append([]model.TakeProfitRung(nil), ladder...),
		BreakevenPercent:   be,
		SlippagePercent:    slippage,
		TransactionHash:    res.Signature,
		Timestamp:          float64(now.UnixNano()) / float64(time.Second),
		TakeProfitExecuted: []int{},
	}
	if pos, err = p.track(bought, userID, pos); err != nil {
		return model.Position{}, errors.Wrap(err, "service position / OpenPosition / add to registry")
	}
	logrus.WithFields(logrus.Fields{"user": userID, "position": pos.ID, "entry": entry}).Info("Position service / position opened")
	p.Events.Publish(events.Event{
		Type:       events.PositionOpened,
		UserID:     userID,
		PositionID: pos.ID,
		Contract:   contract,
		AmountSOL:  amountSOL,
		Tokens:     tokens,
		Price:      entry,
		Message:    fmt.Sprintf("sl %v%%, %d take-profit levels", sl, len(ladder)),
	})
	return pos, nil
}

// track add bought position. Ids repeat when the same contract is bought twice within a second,
// such position gets a numbered suffix
func (p *PositionsService) track(ctx context.Context, userID string, pos model.Position) (model.Position, error) {
	base := pos.ID
	var err error
	for attempt := 2; attempt <= maxIDAttempts+1; attempt++ {
		if err = p.Registry.Add(ctx, userID, pos); !errors.Is(err, model.ErrPositionExists) {
			return pos, err
		}
		pos.ID = fmt.Sprintf("%s_%d", base, attempt)
	}
	return pos, err
}

// ClosePosition manual full or partial close
func (p *PositionsService) ClosePosition(ctx context.Context, userID, positionID string, percent float64, reason string) error {
	if reason == "" {
		reason = events.ReasonManual
	}
	if err := p.Executor.Close(ctx, userID, positionID, percent, reason); err != nil {
		return fmt.Errorf("service position / ClosePosition : %w", err)
	}
	return nil
}

// PanicSell close all positions of user. Returns count of closed positions and first error
func (p *PositionsService) PanicSell(ctx context.Context, userID string) (int, error) {
	positions, err := p.Registry.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service position / PanicSell / list : %w", err)
	}
	closed := 0
	var first error
	for _, pos := range positions {
		if err := p.Executor.Close(ctx, userID, pos.ID, 100, events.ReasonPanic); err != nil {
			logrus.WithError(err).WithField("position", pos.ID).Error("service position / PanicSell")
			if first == nil {
				first = err
			}
			continue
		}
		closed++
	}
	return closed, first
}

// UpdatePositionSettings edit stop-loss, breakeven or ladder of open position
func (p *PositionsService) UpdatePositionSettings(ctx context.Context, userID, positionID string, patch SettingsPatch) (model.Position, error) {
	if patch.StopLoss != nil && *patch.StopLoss < 0 {
		return model.Position{}, fmt.Errorf("service position / UpdatePositionSettings / stop-loss must not be negative")
	}
	if patch.BreakevenPercent != nil && *patch.BreakevenPercent <= 0 {
		return model.Position{}, fmt.Errorf("service position / UpdatePositionSettings / breakeven must be positive")
	}
	total := 0.0
	for _, r := range patch.TakeProfitLevels {
		if !r.Valid() || r.VolumePercent > 100 {
			return model.Position{}, errors.Wrapf(model.ErrInvalidRung, "level %v volume %v", r.Level, r.VolumePercent)
		}
		total += r.VolumePercent
	}
	if total > 100 {
		return model.Position{}, errors.Wrapf(model.ErrInvalidRung, "total volume %v exceeds 100", total)
	}

	unlock, err := p.Locker.Lock(ctx, locker.Key(userID, positionID))
	if err != nil {
		return model.Position{}, fmt.Errorf("service position / UpdatePositionSettings / lock : %w", err)
	}
	defer unlock()
	found, err := p.Registry.Update(ctx, userID, positionID, model.PositionPatch{
		StopLoss:         patch.StopLoss,
		BreakevenPercent: patch.BreakevenPercent,
		TakeProfitLevels: patch.TakeProfitLevels,
	})
	if err != nil {
		return model.Position{}, fmt.Errorf("service position / UpdatePositionSettings / update : %w", err)
	}
	if !found {
		return model.Position{}, errors.Wrapf(model.ErrPositionNotFound, "service position / UpdatePositionSettings / %s", positionID)
	}
	pos, _, err := p.Registry.Get(ctx, userID, positionID)
	if err != nil {
		return model.Position{}, fmt.Errorf("service position / UpdatePositionSettings / get : %w", err)
	}
	return pos, nil
}

// Positions of user
func (p *PositionsService) Positions(ctx context.Context, userID string) ([]model.Position, error) {
	positions, err := p.Registry.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service position / Positions : %w", err)
	}
	return positions, nil
}

// AccountBalance SOL balance of wallet
func (p *PositionsService) AccountBalance(ctx context.Context) (float64, error) {
	return p.Trader.AccountBalance(ctx)
}
