package reports

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/model"
)

// ClosedTrade open paired with its closing row
type ClosedTrade struct {
	PositionID string
	Contract   string
	Invested   float64
	PnLSOL     float64
	PnLPercent float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Hold time position was open
func (c ClosedTrade) Hold() time.Duration {
	return c.ClosedAt.Sub(c.OpenedAt)
}

// Stats statistics of user for period
type Stats struct {
	TotalTrades     int
	OpenPositions   int
	ClosedPositions int
	TotalInvested   float64
	TotalPnLSOL     float64
	TotalPnLPercent float64
	WinRate         float64
	Best            *ClosedTrade
	Worst           *ClosedTrade
	AvgHoldHours    float64
	Recent          []model.TradeRecord
}

// Statistics of user trades for last days, days <= 0 means all time
func (j *Journal) Statistics(ctx context.Context, userID string, days int) (Stats, error) {
	trades, err := j.UserTrades(ctx, userID, days)
	if err != nil {
		return Stats{}, errors.Wrap(err, "reports / Statistics")
	}
	return Compute(trades), nil
}

// Compute statistics from trades. Each open is paired with the first later closing row of the same position,
// take-profit and partial rows between them add to its pnl
func Compute(trades []model.TradeRecord) Stats {
	stats := Stats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}
	byPosition := make(map[string][]model.TradeRecord)
	var keys []string
	for _, t := range trades {
		key := t.PositionID
		if key == "" {
			key = t.ContractAddress
		}
		if _, ok := byPosition[key]; !ok {
			keys = append(keys, key)
		}
		byPosition[key] = append(byPosition[key], t)
	}
	sort.Strings(keys)

	var closed []ClosedTrade
	for _, key := range keys {
		rows := byPosition[key]
		sort.SliceStable(rows, func(a, b int) bool {
			if rows[a].Time.Equal(rows[b].Time) {
				return rows[a].Action == model.ActionOpen && rows[b].Action != model.ActionOpen
			}
			return rows[a].Time.Before(rows[b].Time)
		})
		var open *model.TradeRecord
		var realized float64
		for i := range rows {
			row := &rows[i]
			switch {
			case row.Action == model.ActionOpen:
				if open != nil {
					stats.OpenPositions++
				}
				open, realized = row, 0
				stats.TotalInvested += row.AmountSOL
			case open == nil:
			case row.Closing():
				pnl := realized + row.PnLSOL
				ct := ClosedTrade{
					PositionID: row.PositionID,
					Contract:   row.ContractAddress,
					Invested:   open.AmountSOL,
					PnLSOL:     pnl,
					OpenedAt:   open.Time,
					ClosedAt:   row.Time,
				}
				if open.AmountSOL > 0 {
					ct.PnLPercent = pnl / open.AmountSOL * 100
				}
				closed = append(closed, ct)
				stats.TotalPnLSOL += pnl
				open = nil
			default:
				realized += row.PnLSOL
			}
		}
		if open != nil {
			stats.OpenPositions++
			stats.TotalPnLSOL += realized
		}
	}

	stats.ClosedPositions = len(closed)
	if stats.TotalInvested > 0 {
		stats.TotalPnLPercent = stats.TotalPnLSOL / stats.TotalInvested * 100
	}
	if len(closed) > 0 {
		wins := 0
		var hold time.Duration
		for i := range closed {
			c := &closed[i]
			if c.PnLSOL > 0 {
				wins++
			}
			hold += c.Hold()
			if stats.Best == nil || c.PnLPercent > stats.Best.PnLPercent {
				stats.Best = c
			}
			if stats.Worst == nil || c.PnLPercent < stats.Worst.PnLPercent {
				stats.Worst = c
			}
		}
		stats.WinRate = float64(wins) / float64(len(closed)) * 100
		stats.AvgHoldHours = (hold / time.Duration(len(closed))).Hours()
	}
	recent := len(trades)
	if recent > 10 {
		recent = 10
	}
	stats.Recent = append([]model.TradeRecord(nil), trades[:recent]...)
	return stats
}

// FormatSummary text report of statistics
func FormatSummary(stats Stats, days int) string {
	period := "all time"
	if days > 0 {
		period = fmt.Sprintf("%d days", days)
	}
	if stats.TotalTrades == 0 {
		return fmt.Sprintf("📊 Report for %s:\n\n🔭 No trades found", period)
	}
	icon := "🟢"
	if stats.TotalPnLSOL < 0 {
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Report for %s:\n\n", period)
	fmt.Fprintf(&b, "📈 Trades: %d\n", stats.TotalTrades)
	fmt.Fprintf(&b, "📂 Open: %d\n", stats.OpenPositions)
	fmt.Fprintf(&b, "✅ Closed: %d\n", stats.ClosedPositions)
	fmt.Fprintf(&b, "💰 Invested: %.4f SOL\n", stats.TotalInvested)
	fmt.Fprintf(&b, "%s P&L: %+.4f SOL (%+.2f%%)\n", icon, stats.TotalPnLSOL, stats.TotalPnLPercent)
	fmt.Fprintf(&b, "🎯 Win rate: %.1f%%\n", stats.WinRate)
	if stats.Best != nil {
		fmt.Fprintf(&b, "🚀 Best: %+.1f%%\n", stats.Best.PnLPercent)
	}
	if stats.Worst != nil {
		fmt.Fprintf(&b, "💥 Worst: %+.1f%%\n", stats.Worst.PnLPercent)
	}
	if stats.AvgHoldHours > 0 {
		fmt.Fprintf(&b, "⏱️ Avg hold: %.1fh", stats.AvgHoldHours)
	}
	return strings.TrimRight(b.String(), "\n")
}
