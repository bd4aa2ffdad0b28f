// Package notify delivers operator events to Telegram and the log.
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"atr-trading-bot/internal/types"
)

const timeLayout = "2006-01-02 15:04:05"

// Format renders ev as a Telegram HTML message.
func Format(ev types.Event, now time.Time) string {
	var b strings.Builder
	field := func(name, value string) {
		fmt.Fprintf(&b, "<b>%s:</b> %s\n", name, value)
	}

	switch ev.Kind {
	case types.EventStarted:
		b.WriteString("🚀 <b>Trading Bot Started</b>\n\n")
		if ev.Message != "" {
			b.WriteString(html.EscapeString(ev.Message) + "\n")
		}
	case types.EventStopped:
		b.WriteString("🛑 <b>Trading Bot Stopped</b>\n\n")
		if ev.Message != "" {
			b.WriteString(html.EscapeString(ev.Message) + "\n")
		}
	case types.EventTradeOpened:
		icon, action := "🟢", "BUY"
		if ev.Direction == types.Short {
			icon, action = "🔴", "SELL"
		}
		b.WriteString(icon + " <b>Trade Opened</b>\n\n")
		field("Symbol", html.EscapeString(ev.Symbol))
		field("Action", action)
		field("Lot", fmt.Sprintf("%.2f", ev.Volume))
		field("Price", fmt.Sprintf("%.5f", ev.Price))
		field("SL", fmt.Sprintf("%.5f", ev.StopLoss))
		field("TP", fmt.Sprintf("%.5f", ev.TakeProfit))
	case types.EventTradeClosed:
		icon := "✅"
		if ev.Profit < 0 {
			icon = "❌"
		}
		b.WriteString(icon + " <b>Trade Closed</b>\n\n")
		field("Symbol", html.EscapeString(ev.Symbol))
		field("Profit", fmt.Sprintf("$%.2f", ev.Profit))
		if ev.Message != "" {
			field("Reason", html.EscapeString(ev.Message))
		}
	case types.EventCircuitBreaker:
		b.WriteString("🚨 <b>CIRCUIT BREAKER ACTIVATED</b> 🚨\n\n")
		field("Daily Drawdown", fmt.Sprintf("%.2f%%", ev.Drawdown))
		b.WriteString("<b>Trading suspended</b>\n")
	case types.EventError:
		b.WriteString("⚠️ <b>Error Occurred</b>\n\n")
		b.WriteString(html.EscapeString(ev.Message) + "\n")
	default:
		b.WriteString(html.EscapeString(ev.Message) + "\n")
	}

	field("Time", now.Format(timeLayout))
	return b.String()
}
