package trace

import (
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testkit/events"
)

// MatchExact verifies that the trace equals the condition list
// element-for-element: same length, same order, each event satisfying its
// condition. Any extra, missing, or reordered event fails.
func MatchExact(tr Trace, conds ...Condition) error {
	log := tr.Events()
	var problems []string
	for i := 0; i < len(log) || i < len(conds); i++ {
		switch {
		case i >= len(log):
			problems = append(problems, fmt.Sprintf("condition #%d (%s) has no event: log ended", i, conds[i]))
		case i >= len(conds):
			problems = append(problems, fmt.Sprintf("unexpected extra event at #%d: %s", i, describeEvent(log[i])))
		case !conds[i].Matches(log[i]):
			problems = append(problems, fmt.Sprintf("event #%d does not satisfy condition (%s): %s", i, conds[i], describeEvent(log[i])))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &MatchError{Mode: "exact", Trace: tr, Problems: problems}
}

// MatchLoosely verifies subsequence containment: each condition matches
// some event at a strictly increasing position, with unmatched events
// allowed to interleave or surround. A condition whose event never occurs,
// or occurs only before an earlier condition's match, fails.
func MatchLoosely(tr Trace, conds ...Condition) error {
	log := tr.Events()
	var problems []string
	pos := 0
	for i, cond := range conds {
		matched := -1
		for j := pos; j < len(log); j++ {
			if cond.Matches(log[j]) {
				matched = j
				break
			}
		}
		if matched < 0 {
			// Distinguish "never occurs" from "occurs out of order".
			outOfOrder := false
			for j := 0; j < pos; j++ {
				if cond.Matches(log[j]) {
					outOfOrder = true
					break
				}
			}
			if outOfOrder {
				problems = append(problems, fmt.Sprintf("condition #%d (%s) matched only before an earlier condition's event", i, cond))
			} else {
				problems = append(problems, fmt.Sprintf("condition #%d (%s) was never satisfied", i, cond))
			}
			continue
		}
		pos = matched + 1
	}
	if len(problems) == 0 {
		return nil
	}
	return &MatchError{Mode: "loose", Trace: tr, Problems: problems}
}

// MatchError reports a trace that does not match the expected shape. Its
// message carries both the unsatisfied conditions and the full actual
// sequence, so a mismatch is diagnosable without re-running the session.
type MatchError struct {
	Mode     string
	Trace    Trace
	Problems []string
}

func (e *MatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s match failed:\n", e.Mode)
	for _, p := range e.Problems {
		fmt.Fprintf(&sb, "  - %s\n", p)
	}
	sb.WriteString("recorded events:\n")
	sb.WriteString(renderTrace(e.Trace))
	return sb.String()
}

// renderTrace renders the actual event sequence as a table.
func renderTrace(tr Trace) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Kind", "Node", "Unique ID", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Unique ID", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Detail", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	for i, event := range tr.Events() {
		t.AppendRow(table.Row{i, event.Kind, event.NodeKind, event.ID.String(), eventDetail(event)})
	}
	return t.Render()
}

func describeEvent(event events.Event) string {
	detail := eventDetail(event)
	if detail == "" {
		return fmt.Sprintf("%s %s %q", event.Kind, event.NodeKind, event.ID)
	}
	return fmt.Sprintf("%s %s %q (%s)", event.Kind, event.NodeKind, event.ID, detail)
}

// eventDetail summarizes the kind-specific payload. Failure causes may
// carry ANSI escapes from whatever tooling produced them; those are
// scrubbed before rendering.
func eventDetail(event events.Event) string {
	switch event.Kind {
	case events.KindSkipped:
		return fmt.Sprintf("reason: %s", event.Reason)
	case events.KindFinished:
		if event.Result.Cause == nil {
			return string(event.Result.Status)
		}
		return fmt.Sprintf("%s: %s", event.Result.Status, stripansi.Strip(event.Result.Cause.Error()))
	default:
		return ""
	}
}
