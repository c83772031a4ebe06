package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders a list of run results as human-readable text.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	totalFiles := len(results)
	fmt.Fprintf(&b, "Checking %d scenario file", totalFiles)
	if totalFiles != 1 {
		b.WriteString("s")
	}
	b.WriteString("...\n\n")

	totalCases, totalPassed, failedScenarios := 0, 0, 0

	for _, r := range results {
		totalCases += r.Total
		totalPassed += r.Passed

		status := "PASS"
		if r.Failed > 0 {
			status = "FAIL"
			failedScenarios++
		}
		fmt.Fprintf(&b, "  %s  %s (%d/%d)\n", status, r.Name, r.Passed, r.Total)
		for _, c := range r.Cases {
			if c.Passed {
				continue
			}
			input := c.Input
			if len(input) > 40 {
				input = input[:37] + "..."
			}
			fmt.Fprintf(&b, "    FAIL  case %d: %-40s expected %s, got %s\n", c.Index, input, c.Expected, c.Actual)
			if c.Detail != "" {
				fmt.Fprintf(&b, "          %s\n", c.Detail)
			}
		}
	}

	fmt.Fprintf(&b, "\n%d of %d cases passed.", totalPassed, totalCases)
	if failedScenarios > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", failedScenarios, totalFiles)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders run results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
