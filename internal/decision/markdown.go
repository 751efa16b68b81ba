package decision

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// RenderMarkdown renders a gate result as a markdown report.
func RenderMarkdown(result *DecisionResult) string {
	var sb strings.Builder

	sb.WriteString("# Decision Gate Report\n\n")
	if result.Strategy != "" {
		fmt.Fprintf(&sb, "Strategy: %s (run %s)\n\n", result.Strategy, result.RunID)
	}
	fmt.Fprintf(&sb, "## Decision: %s\n\n", result.Decision)

	sb.WriteString("## GO Criteria\n\n")
	passed := criteriaTable(&sb, []string{"#", "Criterion", "Threshold", "Actual", "Pass"}, result.GOCriteria, "PASS", "FAIL")
	fmt.Fprintf(&sb, "\nGO Criteria: %d/%d passed\n\n", passed, len(result.GOCriteria))

	// A NO-GO check that passes has not fired.
	sb.WriteString("## NO-GO Triggers\n\n")
	quiet := criteriaTable(&sb, []string{"#", "Trigger", "Condition", "Actual", "Status"}, result.NOGOChecks, "NOT TRIGGERED", "TRIGGERED")
	fmt.Fprintf(&sb, "\nNO-GO Triggers: %d/%d triggered\n\n", len(result.NOGOChecks)-quiet, len(result.NOGOChecks))

	sb.WriteString("## Summary\n\n")
	if result.Decision == DecisionGO {
		sb.WriteString("All GO criteria passed and no NO-GO triggers fired.\n")
		return sb.String()
	}
	sb.WriteString("Decision is NO-GO due to:\n")
	for _, c := range failed(result.GOCriteria) {
		fmt.Fprintf(&sb, "- GO criterion failed: %s (actual: %s)\n", c.Name, c.Actual)
	}
	for _, c := range failed(result.NOGOChecks) {
		fmt.Fprintf(&sb, "- NO-GO trigger fired: %s (actual: %s)\n", c.Name, c.Actual)
	}
	return sb.String()
}

// criteriaTable writes rows as a markdown table and returns how many passed.
func criteriaTable(sb *strings.Builder, header []string, rows []CriterionResult, passLabel, failLabel string) int {
	table := tablewriter.NewWriter(sb)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	passed := 0
	for i, c := range rows {
		label := failLabel
		if c.Pass {
			label = passLabel
			passed++
		}
		table.Append([]string{strconv.Itoa(i + 1), c.Name, c.Threshold, c.Actual, label})
	}
	table.Render()
	return passed
}

func failed(rows []CriterionResult) []CriterionResult {
	var out []CriterionResult
	for _, c := range rows {
		if !c.Pass {
			out = append(out, c)
		}
	}
	return out
}
