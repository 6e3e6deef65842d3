package handlers

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/service"
)

// OpenPosition buy contract and start tracking it. Amount and exit settings default to user settings
func (m *MonitorServer) OpenPosition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log.Debug("Handler Open Position ", req)
	userID := str(req, "user_id")
	contract := str(req, "contract")
	if contract == "" {
		return fail(errors.New("contract is required")), nil
	}
	amount := m.Settings.Get(userID).PositionSize
	if v := num(req, "amount_sol"); v != nil {
		amount = *v
	}
	overrides := &service.OpenOverrides{
		StopLoss:         num(req, "sl"),
		BreakevenPercent: num(req, "breakeven_percent"),
		SlippagePercent:  num(req, "slippage_percent"),
	}
	if text := str(req, "tp_levels"); text != "" {
		ladder, err := model.ParseTakeProfitLadder(text)
		if err != nil {
			log.WithError(err).Warn("position handler / OpenPosition / parse ladder")
			return fail(err), nil
		}
		overrides.TakeProfitLevels = ladder
	}

	pos, err := m.Positions.OpenPosition(ctx, userID, contract, amount, overrides)
	if err != nil {
		log.WithError(err).Error("position handler / OpenPosition")
		return fail(err), nil
	}
	return positionReply(pos)
}

// ClosePosition manual full or partial close, percent defaults to 100
func (m *MonitorServer) ClosePosition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log.Debug("Handler Close Position ", req)
	positionID := str(req, "position_id")
	if positionID == "" {
		return fail(errors.New("position_id is required")), nil
	}
	percent := 100.0
	if v := num(req, "percent"); v != nil {
		percent = *v
	}
	if err := m.Positions.ClosePosition(ctx, str(req, "user_id"), positionID, percent, str(req, "reason")); err != nil {
		log.WithError(err).Error("position handler / ClosePosition")
		return fail(err), nil
	}
	return reply(map[string]interface{}{"position_id": positionID, "percent": percent})
}

// PanicSell close every position of user
func (m *MonitorServer) PanicSell(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := str(req, "user_id")
	log.WithField("user", userID).Warn("Handler Panic Sell")
	closed, err := m.Positions.PanicSell(ctx, userID)
	if err != nil {
		log.WithError(err).Error("position handler / PanicSell")
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"closed": structpb.NewNumberValue(float64(closed)),
			"error":  structpb.NewStringValue(err.Error()),
		}}, nil
	}
	return reply(map[string]interface{}{"closed": closed})
}

// GetUserPositions tracked positions of user
func (m *MonitorServer) GetUserPositions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	positions, err := m.Positions.Positions(ctx, str(req, "user_id"))
	if err != nil {
		log.WithError(err).Error("position handler / GetUserPositions")
		return fail(err), nil
	}
	list := make([]interface{}, 0, len(positions))
	for _, pos := range positions {
		item, err := asMap(pos)
		if err != nil {
			log.WithError(err).Error("position handler / GetUserPositions / convert")
			return fail(err), nil
		}
		list = append(list, item)
	}
	return reply(map[string]interface{}{"positions": list})
}

// UpdatePositionSettings edit stop-loss, breakeven or ladder of open position
func (m *MonitorServer) UpdatePositionSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	patch := service.SettingsPatch{
		StopLoss:         num(req, "sl"),
		BreakevenPercent: num(req, "breakeven_percent"),
	}
	if text := str(req, "tp_levels"); text != "" {
		ladder, err := model.ParseTakeProfitLadder(text)
		if err != nil {
			return fail(err), nil
		}
		patch.TakeProfitLevels = ladder
	}
	pos, err := m.Positions.UpdatePositionSettings(ctx, str(req, "user_id"), str(req, "position_id"), patch)
	if err != nil {
		log.WithError(err).Error("position handler / UpdatePositionSettings")
		return fail(err), nil
	}
	return positionReply(pos)
}

func positionReply(pos model.Position) (*structpb.Struct, error) {
	item, err := asMap(pos)
	if err != nil {
		return fail(err), nil
	}
	return reply(map[string]interface{}{"position": item})
}
