package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	m := r.Metrics
	var sb strings.Builder

	sb.WriteString("# Backtest Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if m.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run `%s` | Strategy: %s | Symbol: %s\n\n", m.RunID, m.Strategy, m.Symbol))
	}
	if !m.StartTime.IsZero() {
		sb.WriteString(fmt.Sprintf("Period: %s to %s\n\n", m.StartTime.Format(time.RFC3339), m.EndTime.Format(time.RFC3339)))
	}

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Initial Capital | %.2f |\n", m.InitialCapital))
	sb.WriteString(fmt.Sprintf("| Final Capital | %.2f |\n", m.FinalCapital))
	sb.WriteString(fmt.Sprintf("| Net P&L | %.2f (%.2f%%) |\n", m.NetPnL, m.TotalPnLPercent))
	sb.WriteString(fmt.Sprintf("| Total Fees | %.2f |\n", m.TotalFees))
	sb.WriteString(fmt.Sprintf("| Trades | %d (%d won, %d lost) |\n", m.TotalTrades, m.WinningTrades, m.LosingTrades))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.2f%% |\n", m.WinRate*100))
	sb.WriteString(fmt.Sprintf("| Profit Factor | %.2f |\n", m.ProfitFactor))
	sb.WriteString(fmt.Sprintf("| Sharpe Ratio | %.2f |\n", m.SharpeRatio))
	sb.WriteString(fmt.Sprintf("| Max Drawdown | %.2f (%.2f%%) |\n", m.MaxDrawdown, m.MaxDrawdownPercent))
	sb.WriteString(fmt.Sprintf("| Recovery Factor | %.2f |\n", m.RecoveryFactor))
	sb.WriteString(fmt.Sprintf("| Avg Trade Duration | %s |\n", m.AverageTradeDuration))
	sb.WriteString("\n")

	// Trades
	sb.WriteString("## Trades\n\n")
	if len(r.Trades) > 0 {
		sb.WriteString("| Entry | Side | Entry Price | Exit Price | Qty | Fees | PnL | Status |\n")
		sb.WriteString("|-------|------|-------------|------------|-----|------|-----|--------|\n")
		for _, row := range TradeRows(r.Trades) {
			sb.WriteString(fmt.Sprintf("| %s | %s | %.4f | %.4f | %.6f | %.4f | %.4f | %s |\n",
				row.EntryTime, row.Side, row.EntryPrice, row.ExitPrice,
				row.Quantity, row.Fees, row.PnL, row.Status))
		}
	} else {
		sb.WriteString("No trades.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
