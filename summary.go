package testkit

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testkit/events"
	"github.com/ethereum-optimism/infra/op-testkit/trace"
	"github.com/ethereum-optimism/infra/op-testkit/uniqueid"
)

// printSummary prints the results of the most recent session to the console.
func (t *testkit) printSummary() {
	result := t.result
	if result == nil {
		return
	}
	t.config.Log.Info("Printing results...")

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetTitle(fmt.Sprintf("Execution Session Results (%s)", formatDuration(result.Duration)))

	w.AppendHeader(table.Row{
		"Type", "ID", "Started", "Succeeded", "Aborted", "Failed", "Skipped", "Status",
	})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Started", Align: text.AlignRight},
		{Name: "Succeeded", Align: text.AlignRight},
		{Name: "Aborted", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	// One row per top-level container, computed from the recorded trace.
	for _, id := range topLevelContainers(result.Trace) {
		stats := result.Trace.TestEvents().
			Filter(trace.UniqueIDDescendantOf(id).Matches).
			Statistics()
		w.AppendRow(table.Row{
			"Container",
			id.String(),
			stats.Started,
			stats.Succeeded,
			stats.Aborted,
			stats.Failed,
			stats.Skipped,
			containerResultString(stats),
		})
	}

	w.AppendFooter(table.Row{
		"Session",
		result.RunID,
		result.Stats.Started,
		result.Stats.Succeeded,
		result.Stats.Aborted,
		result.Stats.Failed,
		result.Stats.Skipped,
		getResultString(result.Status),
	})
	w.Render()

	if len(result.ListenerErrors) > 0 {
		fmt.Printf("%d listener error(s) occurred during reporting (tests unaffected):\n", len(result.ListenerErrors))
		for _, lerr := range result.ListenerErrors {
			fmt.Printf("  - %v\n", lerr)
		}
	}
	if result.Tracked() {
		fmt.Printf("Tracked %d unique IDs\n", len(result.TrackedIDs))
	}
}

// Tracked reports whether the session accumulated any unique IDs.
func (r *SessionResult) Tracked() bool {
	return len(r.TrackedIDs) > 0
}

// topLevelContainers returns the container identifiers directly under the
// session root, in first-started order.
func topLevelContainers(tr trace.Trace) []uniqueid.UniqueID {
	var out []uniqueid.UniqueID
	for _, event := range tr.Events() {
		if event.Kind != events.KindStarted || !event.IsContainer() {
			continue
		}
		if len(event.ID.Segments()) == 2 {
			out = append(out, event.ID)
		}
	}
	return out
}

func containerResultString(stats trace.Statistics) string {
	switch {
	case stats.Failed > 0:
		return "✗ fail"
	case stats.Started == 0 && stats.Skipped > 0:
		return "- skip"
	default:
		return "✓ pass"
	}
}

// getResultString returns a string representing the session result
func getResultString(status events.ResultStatus) string {
	if status == events.StatusSuccessful {
		return "✓ pass"
	}
	return "✗ fail"
}

// formatDuration formats a duration to a human-friendly precision.
func formatDuration(d time.Duration) string {
	return d.Round(10 * time.Millisecond).String()
}
