package reporting

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

const rule = 60

// RenderText renders the run summary as plain-text sections.
func RenderText(r *Report) string {
	m := r.Metrics
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", rule) + "\n")
	sb.WriteString("BACKTEST REPORT\n")
	sb.WriteString(strings.Repeat("=", rule) + "\n")
	if m.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run: %s  Strategy: %s  Symbol: %s\n", m.RunID, m.Strategy, m.Symbol))
	}
	writeSection(&sb, "", [][]string{
		{"Initial Capital", money(m.InitialCapital)},
		{"Final Capital", money(m.FinalCapital)},
		{"Net P&L", fmt.Sprintf("%s (%.2f%%)", money(m.NetPnL), m.TotalPnLPercent)},
	})
	writeSection(&sb, "TRADE STATISTICS", [][]string{
		{"Total Trades", fmt.Sprintf("%d", m.TotalTrades)},
		{"Winning Trades", fmt.Sprintf("%d", m.WinningTrades)},
		{"Losing Trades", fmt.Sprintf("%d", m.LosingTrades)},
		{"Win Rate", fmt.Sprintf("%.2f%%", m.WinRate*100)},
	})
	writeSection(&sb, "PROFIT/LOSS", [][]string{
		{"Total Fees", money(m.TotalFees)},
		{"Average Win", money(m.AverageWin)},
		{"Average Loss", money(m.AverageLoss)},
		{"Largest Win", money(m.LargestWin)},
		{"Largest Loss", money(m.LargestLoss)},
		{"Profit Factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
	})
	writeSection(&sb, "RISK METRICS", [][]string{
		{"Max Drawdown", fmt.Sprintf("%s (%.2f%%)", money(m.MaxDrawdown), m.MaxDrawdownPercent)},
		{"Recovery Factor", fmt.Sprintf("%.2f", m.RecoveryFactor)},
		{"Sharpe Ratio", fmt.Sprintf("%.2f", m.SharpeRatio)},
	})
	writeSection(&sb, "PERFORMANCE", [][]string{
		{"Average Trade Duration", m.AverageTradeDuration.String()},
		{"Equity Samples", fmt.Sprintf("%d", len(r.Equity))},
	})
	sb.WriteString(strings.Repeat("=", rule) + "\n")

	return sb.String()
}

func writeSection(sb *strings.Builder, title string, rows [][]string) {
	sb.WriteString("\n")
	if title != "" {
		sb.WriteString(title + "\n")
		sb.WriteString(strings.Repeat("-", rule) + "\n")
	}

	table := tablewriter.NewWriter(sb)
	table.SetBorder(false)
	table.SetColumnSeparator(":")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.AppendBulk(rows)
	table.Render()
}

// money formats a dollar amount with thousands separators.
func money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%.2f", v)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var out []byte
	for i, c := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return sign + "$" + string(out) + frac
}
