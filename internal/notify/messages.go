package notify

import (
	"fmt"
	"html"
	"time"

	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/model"
)

const maxErrorLen = 200

var reasonText = map[string]string{
	events.ReasonManual: "Manual close",
	events.ReasonSL:     "Stop Loss",
	events.ReasonTP:     "Take Profit",
	events.ReasonPanic:  "Panic Sell",
	events.ReasonEmpty:  "No tokens left",
}

// Enabled user wants notifications of event type
func Enabled(prefs model.NotificationPrefs, t events.Type) bool {
	switch t {
	case events.PositionOpened:
		return prefs.PositionOpen
	case events.PositionClosed:
		return prefs.PositionClose
	case events.StopLoss:
		return prefs.StopLoss
	case events.TakeProfit:
		return prefs.TakeProfit
	case events.Breakeven:
		return prefs.Breakeven
	case events.Error:
		return prefs.Errors
	}
	return false
}

func shortContract(contract string) string {
	if len(contract) <= 14 {
		return contract
	}
	return contract[:8] + "..." + contract[len(contract)-6:]
}

// Render text of event
func Render(e events.Event) string {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	clock := at.Format("15:04:05")
	contract := html.EscapeString(shortContract(e.Contract))
	switch e.Type {
	case events.PositionOpened:
		return fmt.Sprintf("🟢 <b>Position opened</b>\n\n💰 Contract: <code>%s</code>\n💵 Size: %.4f SOL\n📈 Entry price: %.8f\n⚙️ %s\n\n⏰ %s",
			contract, e.AmountSOL, e.Price, html.EscapeString(e.Message), clock)
	case events.PositionClosed:
		icon := "🟢"
		if e.PnLSOL < 0 {
			icon = "🔴"
		}
		reason, ok := reasonText[e.Reason]
		if !ok {
			reason = e.Reason
		}
		text := fmt.Sprintf("%s <b>Position closed</b>\n\n💰 Contract: <code>%s</code>\n📊 P&L: %+.4f SOL (%+.2f%%)\n🔄 Reason: %s",
			icon, contract, e.PnLSOL, e.PnL, html.EscapeString(reason))
		if e.Volume > 0 && e.Volume < 100 {
			text += fmt.Sprintf("\n📦 Sold: %g%% of position", e.Volume)
		}
		return text + "\n\n⏰ " + clock
	case events.StopLoss:
		return fmt.Sprintf("🛑 <b>STOP LOSS</b>\n\n💰 Contract: <code>%s</code>\n📉 Loss: %.2f%%\n🔄 Position closed automatically\n\n⏰ %s",
			contract, e.PnL, clock)
	case events.TakeProfit:
		return fmt.Sprintf("🎯 <b>TAKE PROFIT</b>\n\n💰 Contract: <code>%s</code>\n📈 Level: %gx (+%.0f%%)\n📊 Sold: %g%% of position\n💹 Current P&L: %+.2f%%\n\n⏰ %s",
			contract, e.Level, (e.Level-1)*100, e.Volume, e.PnL, clock)
	case events.Breakeven:
		return fmt.Sprintf("⚖️ <b>BREAKEVEN</b>\n\n💰 Contract: <code>%s</code>\n📈 Profit: %+.2f%%\n🔒 Stop Loss moved to entry price\n\n⏰ %s",
			contract, e.PnL, clock)
	case events.Error:
		msg := e.Message
		if r := []rune(msg); len(r) > maxErrorLen {
			msg = string(r[:maxErrorLen])
		}
		return fmt.Sprintf("⚠️ <b>System error</b>\n\n🔍 Context: %s\n💥 Error: %s\n\n⏰ %s",
			html.EscapeString(e.Context), html.EscapeString(msg), clock)
	}
	return html.EscapeString(e.Message)
}

// RenderDailySummary wrap report text
func RenderDailySummary(summary string, at time.Time) string {
	return fmt.Sprintf("📊 <b>Daily report</b>\n\n%s\n\n📅 %s", html.EscapeString(summary), at.Format("02.01.2006"))
}

// RenderPrefs current notification preferences
func RenderPrefs(prefs model.NotificationPrefs) string {
	mark := func(on bool) string {
		if on {
			return "✅"
		}
		return "❌"
	}
	return fmt.Sprintf("🔔 <b>Notification settings:</b>\n\n%s Position open\n%s Position close\n%s Stop Loss\n%s Take Profit\n%s Breakeven\n%s Daily summary\n%s System errors",
		mark(prefs.PositionOpen), mark(prefs.PositionClose), mark(prefs.StopLoss), mark(prefs.TakeProfit),
		mark(prefs.Breakeven), mark(prefs.DailySummary), mark(prefs.Errors))
}
