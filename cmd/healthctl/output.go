package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/leozw/health-guardian/internal/checks"
	"github.com/leozw/health-guardian/internal/core"
)

var Colors = struct {
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Info    func(a ...interface{}) string
	Heading func(a ...interface{}) string
}{
	Success: color.New(color.FgGreen).SprintFunc(),
	Error:   color.New(color.FgRed).SprintFunc(),
	Warning: color.New(color.FgYellow).SprintFunc(),
	Info:    color.New(color.FgCyan).SprintFunc(),
	Heading: color.New(color.FgWhite, color.Bold).SprintFunc(),
}

func statusLabel(s core.ModuleStatus) string {
	label := strings.ToUpper(string(s))
	switch s {
	case core.StatusHealthy:
		return Colors.Success(label)
	case core.StatusWarning:
		return Colors.Warning(label)
	default:
		return Colors.Error(label)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, s *core.SystemHealthSummary) {
	fmt.Fprintf(w, "%s %s  score %d/100  checked %s\n",
		Colors.Heading("System health:"), statusLabel(s.Overall), s.OverallScore,
		s.LastCheck.Format("2006-01-02 15:04:05"))
	if s.NextCheck != nil {
		fmt.Fprintf(w, "Next check: %s\n", s.NextCheck.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSTATUS\tSCORE\tWARNINGS\tERRORS\tTIME")
	for _, m := range s.Modules {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%dms\n",
			m.DisplayName, statusLabel(m.Status), m.Score, len(m.Warnings), len(m.Errors), m.ExecutionTime)
	}
	tw.Flush()

	if len(s.Alerts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, Colors.Heading("Alerts:"))
		for _, a := range s.Alerts {
			fmt.Fprintf(w, "  %s %s\n", statusLabel(a.Severity), a.Message)
		}
	}

	st := s.Statistics
	fmt.Fprintf(w, "\n%d modules: %d healthy, %d warning, %d critical, %d error\n",
		st.TotalModules, st.HealthyModules, st.WarningModules, st.CriticalModules, st.ErrorModules)
}

func printHistory(w io.Writer, results []core.PersistedResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No history recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODULE\tSTATUS\tSCORE\tWARNINGS\tERRORS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.Module, statusLabel(r.Status), r.Score, len(r.Warnings), len(r.Errors))
	}
	tw.Flush()
}

func printReport(w io.Writer, r *core.HealthReport) {
	fmt.Fprintf(w, "%s %s - %s\n", Colors.Heading("Health report"),
		r.PeriodStart.Format("2006-01-02"), r.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(w, "%d samples, overall average %.2f\n\n", r.TotalSamples, r.OverallAverage)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSAMPLES\tAVG\tMIN\tMAX\tLAST")
	for _, m := range r.Modules {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%d\t%d\t%s\n",
			m.DisplayName, m.Samples, m.AverageScore, m.MinScore, m.MaxScore, statusLabel(m.LastStatus))
	}
	tw.Flush()
}

func printModules(w io.Writer, modules []checks.ModuleInfo) {
	for _, m := range modules {
		fmt.Fprintf(w, "%s %s\n", Colors.Info(m.ID), m.Name)
		fmt.Fprintf(w, "  %s\n", m.Description)
		for _, c := range m.Checks {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
}
