package preflight

import (
	"fmt"
	"strings"
)

// PrintResults writes a table of results followed by the overall status and
// the problems that need attention.
func (c *Checker) PrintResults(results []CheckResult) {
	w := c.output
	_, _ = fmt.Fprintln(w, "LOKI System Check")
	_, _ = fmt.Fprintln(w)

	width := 0
	for _, r := range results {
		width = max(width, len(r.Name))
	}
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "  %-4s  %-*s  %s\n", r.Status, width, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(w, "        %-*s  %s\n", width, "", r.Details)
		}
	}

	var problems []string
	for _, r := range results {
		if r.Status == StatusPass {
			continue
		}
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		if r.IsCritical() {
			line = "blocking " + line
		}
		if !c.verbose && r.Details != "" {
			line += " (" + r.Details + ")"
		}
		problems = append(problems, line)
	}

	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(c.SummaryStatus(results)))
	for _, p := range problems {
		_, _ = fmt.Fprintf(w, "  - %s\n", p)
	}
}
