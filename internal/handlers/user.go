package handlers

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/notify"
)

// GetSettings defaults of user with rendered text
func (m *MonitorServer) GetSettings(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return settingsReply(m.Settings.Get(str(req, "user_id")))
}

// UpdateSettings change defaults of user. Fields not present in request stay as they are,
// notification toggles are passed in "notifications" object
func (m *MonitorServer) UpdateSettings(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log.Debug("Handler Update Settings ", req)
	var ladder []model.TakeProfitRung
	if text := str(req, "tp_levels"); text != "" {
		var err error
		if ladder, err = model.ParseTakeProfitLadder(text); err != nil {
			return fail(err), nil
		}
	}
	settings, err := m.Settings.Update(str(req, "user_id"), func(s *model.UserSettings) error {
		if v := num(req, "position_size"); v != nil {
			if *v <= 0 {
				return errors.New("position size must be positive")
			}
			s.PositionSize = *v
		}
		if v := num(req, "sl"); v != nil {
			if *v < 0 || *v >= 100 {
				return errors.New("stop-loss must be in [0, 100)")
			}
			s.StopLoss = *v
		}
		if v := num(req, "breakeven_percent"); v != nil {
			if *v <= 0 {
				return errors.New("breakeven must be positive")
			}
			s.BreakevenPercent = *v
		}
		if v := num(req, "slippage_percent"); v != nil {
			if *v <= 0 || *v > 100 {
				return errors.New("slippage must be in (0, 100]")
			}
			s.SlippagePercent = *v
		}
		if ladder != nil {
			s.TakeProfitLevels = ladder
		}
		if n := req.GetFields()["notifications"].GetStructValue(); n != nil {
			applyPrefs(&s.Notifications, n)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("user handler / UpdateSettings")
		return fail(err), nil
	}
	return settingsReply(settings)
}

func applyPrefs(p *model.NotificationPrefs, in *structpb.Struct) {
	toggles := map[string]*bool{
		"position_open":  &p.PositionOpen,
		"position_close": &p.PositionClose,
		"stop_loss":      &p.StopLoss,
		"take_profit":    &p.TakeProfit,
		"breakeven":      &p.Breakeven,
		"daily_summary":  &p.DailySummary,
		"errors":         &p.Errors,
	}
	for key, dst := range toggles {
		if v := boolean(in, key); v != nil {
			*dst = *v
		}
	}
}

func settingsReply(s model.UserSettings) (*structpb.Struct, error) {
	item, err := asMap(s)
	if err != nil {
		return fail(err), nil
	}
	item["tp_levels_text"] = model.FormatLadder(s.TakeProfitLevels)
	item["notifications_text"] = notify.RenderPrefs(s.Notifications)
	return reply(map[string]interface{}{"settings": item})
}
