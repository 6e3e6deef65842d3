package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/reports"
	"github.com/mrdjehknhc/axtest/internal/service"
	"github.com/mrdjehknhc/axtest/internal/userStorage"
)

const defaultReportDays = 7

// MonitorServer Implement MonitorService
type MonitorServer struct {
	Monitor   *service.Monitor
	Positions *service.PositionsService
	Settings  *userStorage.SettingsService
	Journal   *reports.Journal
}

// Start monitoring loop
func (m *MonitorServer) Start(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log.Debug("Handler Start monitor ", str(req, "user_id"))
	if err := m.Monitor.Start(ctx); err != nil {
		log.WithError(err).Error("monitor handler / Start")
		return fail(err), nil
	}
	return reply(map[string]interface{}{"running": true})
}

// Stop monitoring loop, no-op when stopped
func (m *MonitorServer) Stop(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log.Debug("Handler Stop monitor ", str(req, "user_id"))
	m.Monitor.Stop()
	return reply(map[string]interface{}{"running": false})
}

// ForceCheck evaluate every position of user, or only the one of contract when it is given
func (m *MonitorServer) ForceCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := m.Monitor.ForceCheck(ctx, str(req, "user_id"), str(req, "contract")); err != nil {
		log.WithError(err).Error("monitor handler / ForceCheck")
		return fail(err), nil
	}
	return reply(map[string]interface{}{"checked": true})
}

// Stats of monitor
func (m *MonitorServer) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := m.Monitor.Stats(ctx)
	if err != nil {
		log.WithError(err).Error("monitor handler / Stats")
		return fail(err), nil
	}
	return reply(map[string]interface{}{
		"running":          stats.Running,
		"interval_seconds": stats.Interval.Seconds(),
		"total_positions":  stats.TotalPositions,
		"active_users":     stats.ActiveUsers,
		"session_active":   stats.SessionActive,
	})
}

// Balance SOL balance of trading wallet
func (m *MonitorServer) Balance(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	balance, err := m.Positions.AccountBalance(ctx)
	if err != nil {
		log.WithError(err).Error("monitor handler / Balance")
		return fail(err), nil
	}
	return reply(map[string]interface{}{"balance_sol": balance})
}

// Report statistics of user for last days (default 7, 0 means all time)
func (m *MonitorServer) Report(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	days := defaultReportDays
	if v := num(req, "days"); v != nil {
		days = int(*v)
	}
	stats, err := m.Journal.Statistics(ctx, str(req, "user_id"), days)
	if err != nil {
		log.WithError(err).Error("monitor handler / Report")
		return fail(err), nil
	}
	return reply(map[string]interface{}{
		"text":              reports.FormatSummary(stats, days),
		"total_trades":      stats.TotalTrades,
		"open_positions":    stats.OpenPositions,
		"closed_positions":  stats.ClosedPositions,
		"total_pnl_sol":     stats.TotalPnLSOL,
		"total_pnl_percent": stats.TotalPnLPercent,
		"win_rate":          stats.WinRate,
	})
}

func fail(err error) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"error": structpb.NewStringValue(err.Error()),
	}}
}

func reply(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		log.WithError(err).Error("handlers / reply")
		return fail(err), nil
	}
	return out, nil
}

// str string field, numbers are formatted so telegram ids may come as numbers
func str(in *structpb.Struct, key string) string {
	v, ok := in.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strings.TrimSpace(k.StringValue)
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	}
	return ""
}

// num optional number field, numeric strings are accepted
func num(in *structpb.Struct, key string) *float64 {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return model.Float(k.NumberValue)
	case *structpb.Value_StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
		if err != nil {
			return nil
		}
		return model.Float(f)
	}
	return nil
}

func boolean(in *structpb.Struct, key string) *bool {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	if k, ok := v.GetKind().(*structpb.Value_BoolValue); ok {
		return model.Bool(k.BoolValue)
	}
	return nil
}

// asMap json form of value, keys follow json tags of model
func asMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if err = json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
