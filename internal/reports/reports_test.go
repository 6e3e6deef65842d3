package reports

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/model"
)

func newTestJournal(t *testing.T) *Journal {
	j, err := NewJournal(context.Background(), filepath.Join(t.TempDir(), "history", "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func trade(id, user, position, action string, at time.Time, amount, pnlSOL, pnl float64) model.TradeRecord {
	return model.TradeRecord{
		ID:              id,
		UserID:          user,
		PositionID:      position,
		ContractAddress: "C" + position,
		Action:          action,
		AmountSOL:       amount,
		PnLSOL:          pnlSOL,
		PnLPercent:      pnl,
		Time:            at,
	}
}

func TestJournalRecordAndQuery(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, j.Record(ctx, trade("1", "u1", "p1", model.ActionOpen, now.Add(-48*time.Hour), 1, 0, 0)))
	require.NoError(t, j.Record(ctx, trade("2", "u1", "p1", model.ActionSL, now.Add(-time.Hour), 1, -0.2, -20)))
	require.NoError(t, j.Record(ctx, trade("3", "u2", "p2", model.ActionOpen, now, 2, 0, 0)))
	require.NoError(t, j.Record(ctx, trade("3", "u2", "p2", model.ActionOpen, now, 2, 0, 0)))

	all, err := j.UserTrades(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2", all[0].ID)
	assert.Equal(t, model.ActionSL, all[0].Action)
	assert.Equal(t, -0.2, all[0].PnLSOL)
	assert.WithinDuration(t, now.Add(-time.Hour), all[0].Time, time.Millisecond)

	day, err := j.UserTrades(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, "2", day[0].ID)

	other, err := j.UserTrades(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestCompute(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	trades := []model.TradeRecord{
		trade("1", "u", "p1", model.ActionOpen, base, 1, 0, 0),
		trade("2", "u", "p1", model.ActionTP, base.Add(time.Hour), 0.25, 0.125, 50),
		trade("3", "u", "p1", model.ActionClose, base.Add(2*time.Hour), 1, 0, 0),
		trade("4", "u", "p2", model.ActionOpen, base, 2, 0, 0),
		trade("5", "u", "p2", model.ActionSL, base.Add(4*time.Hour), 2, -0.4, -20),
		trade("6", "u", "p3", model.ActionOpen, base, 1, 0, 0),
		trade("7", "u", "p3", model.ActionPartial, base.Add(time.Hour), 0.5, 0.1, 20),
	}
	stats := Compute(trades)

	assert.Equal(t, 7, stats.TotalTrades)
	assert.Equal(t, 2, stats.ClosedPositions)
	assert.Equal(t, 1, stats.OpenPositions)
	assert.InDelta(t, 4, stats.TotalInvested, 1e-9)
	assert.InDelta(t, 0.125-0.4+0.1, stats.TotalPnLSOL, 1e-9)
	assert.InDelta(t, (0.125-0.4+0.1)/4*100, stats.TotalPnLPercent, 1e-9)
	assert.InDelta(t, 50, stats.WinRate, 1e-9)
	require.NotNil(t, stats.Best)
	assert.Equal(t, "p1", stats.Best.PositionID)
	assert.InDelta(t, 12.5, stats.Best.PnLPercent, 1e-9)
	require.NotNil(t, stats.Worst)
	assert.Equal(t, "p2", stats.Worst.PositionID)
	assert.InDelta(t, 3, stats.AvgHoldHours, 1e-9)
	assert.Len(t, stats.Recent, 7)
}

func TestComputeEmpty(t *testing.T) {
	stats := Compute(nil)
	assert.Equal(t, 0, stats.TotalTrades)
	assert.Nil(t, stats.Best)
	assert.Contains(t, FormatSummary(stats, 7), "No trades found")
}

func TestFormatSummary(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	stats := Compute([]model.TradeRecord{
		trade("1", "u", "p1", model.ActionOpen, base, 1, 0, 0),
		trade("2", "u", "p1", model.ActionClose, base.Add(90*time.Minute), 1, 0.5, 50),
	})
	text := FormatSummary(stats, 1)
	assert.Contains(t, text, "Report for 1 days")
	assert.Contains(t, text, "Trades: 2")
	assert.Contains(t, text, "+0.5000 SOL (+50.00%)")
	assert.Contains(t, text, "Win rate: 100.0%")
	assert.Contains(t, text, "Avg hold: 1.5h")
	assert.Contains(t, FormatSummary(stats, 0), "all time")
}

func TestTradeFromEvent(t *testing.T) {
	at := time.Now()
	rec, ok := TradeFromEvent(events.Event{ID: "e1", Type: events.PositionOpened, UserID: "u", PositionID: "p", AmountSOL: 1, At: at})
	require.True(t, ok)
	assert.Equal(t, model.ActionOpen, rec.Action)
	assert.Equal(t, "e1", rec.ID)

	rec, _ = TradeFromEvent(events.Event{Type: events.PositionClosed, Reason: events.ReasonSL, Volume: 100})
	assert.Equal(t, model.ActionSL, rec.Action)
	rec, _ = TradeFromEvent(events.Event{Type: events.PositionClosed, Reason: events.ReasonPanic, Volume: 100})
	assert.Equal(t, model.ActionPanic, rec.Action)
	rec, _ = TradeFromEvent(events.Event{Type: events.PositionClosed, Reason: events.ReasonManual, Volume: 50, PnLSOL: 0.1})
	assert.Equal(t, model.ActionPartial, rec.Action)
	rec, _ = TradeFromEvent(events.Event{Type: events.PositionClosed, Reason: events.ReasonManual, Volume: 100})
	assert.Equal(t, model.ActionClose, rec.Action)
	rec, _ = TradeFromEvent(events.Event{Type: events.PositionClosed, Reason: events.ReasonTP, PnLSOL: 0.3})
	assert.Equal(t, model.ActionClose, rec.Action)
	assert.Equal(t, 0.0, rec.PnLSOL)
	rec, _ = TradeFromEvent(events.Event{Type: events.TakeProfit, Rung: 1, Level: 2, Volume: 30})
	assert.Equal(t, model.ActionTP, rec.Action)

	_, ok = TradeFromEvent(events.Event{Type: events.Breakeven})
	assert.False(t, ok)
	_, ok = TradeFromEvent(events.Event{Type: events.StopLoss})
	assert.False(t, ok)
}

func TestRecorderListen(t *testing.T) {
	j := newTestJournal(t)
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(16, RecordedTypes...)
	done := make(chan struct{})
	go func() {
		NewRecorder(j).Listen(context.Background(), ch)
		close(done)
	}()

	bus.Publish(events.Event{Type: events.PositionOpened, UserID: "u", PositionID: "p", AmountSOL: 1})
	bus.Publish(events.Event{Type: events.Breakeven, UserID: "u", PositionID: "p"})
	bus.Publish(events.Event{Type: events.PositionClosed, UserID: "u", PositionID: "p", Reason: events.ReasonSL, Volume: 100, PnLSOL: -0.15})

	require.Eventually(t, func() bool {
		trades, err := j.UserTrades(context.Background(), "u", 0)
		return err == nil && len(trades) == 2
	}, time.Second, 10*time.Millisecond)
	unsub()
	<-done

	stats, err := j.Statistics(context.Background(), "u", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ClosedPositions)
	assert.InDelta(t, -0.15, stats.TotalPnLSOL, 1e-9)
}

type fakePositions struct{ snap model.Snapshot }

func (f fakePositions) All(context.Context) (model.Snapshot, error) { return f.snap, nil }

type fakeSettings map[string]model.UserSettings

func (f fakeSettings) Get(user string) model.UserSettings {
	if s, ok := f[user]; ok {
		return s
	}
	return model.DefaultSettings()
}

func (f fakeSettings) UserIDs() []string {
	var ids []string
	for id := range f {
		ids = append(ids, id)
	}
	return ids
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string]string
}

func (f *fakeSender) Send(_ context.Context, user, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[user] = text
	return nil
}

func TestDailyReporterSendReports(t *testing.T) {
	j := newTestJournal(t)
	enabled := model.DefaultSettings()
	enabled.Notifications.DailySummary = true
	settings := fakeSettings{"a": enabled, "b": model.DefaultSettings()}
	positions := fakePositions{snap: model.Snapshot{
		"a": {{ID: "x"}, {ID: "y"}},
		"c": {{ID: "z"}},
	}}
	sender := &fakeSender{}
	d := NewDailyReporter(j, positions, settings, sender, 20)
	d.Pause = 0

	sent, err := d.SendReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Contains(t, sender.sent, "a")
	assert.Contains(t, sender.sent["a"], "No trades found")
	assert.Contains(t, sender.sent["a"], "Active positions: 2")

	require.NoError(t, d.SendTestReport(context.Background(), "b"))
	assert.Contains(t, sender.sent["b"], "Test report")
}

func TestDailyReporterNextRun(t *testing.T) {
	d := NewDailyReporter(nil, nil, nil, nil, 20)
	loc := time.UTC
	assert.Equal(t, time.Date(2024, 3, 1, 20, 0, 0, 0, loc), d.NextRun(time.Date(2024, 3, 1, 9, 30, 0, 0, loc)))
	assert.Equal(t, time.Date(2024, 3, 2, 20, 0, 0, 0, loc), d.NextRun(time.Date(2024, 3, 1, 20, 0, 0, 0, loc)))
	assert.Equal(t, time.Date(2024, 3, 1, 20, 0, 0, 0, loc), d.NextRun(time.Date(2024, 2, 29, 21, 0, 0, 0, loc)))
}

func TestDailyReporterStartStop(t *testing.T) {
	d := NewDailyReporter(newTestJournal(t), fakePositions{}, fakeSettings{}, &fakeSender{}, 20)
	d.Start(context.Background())
	d.Start(context.Background())
	d.Stop()
	d.Stop()
}
