package trace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-testkit/events"
	"github.com/ethereum-optimism/infra/op-testkit/uniqueid"
)

// Condition is a composable predicate over a single event. Conditions
// carry a human-readable description so mismatch diagnostics can name the
// expectation that was never satisfied.
type Condition struct {
	desc  string
	match func(events.Event) bool
}

// NewCondition builds a condition from a description and a predicate.
func NewCondition(desc string, match func(events.Event) bool) Condition {
	return Condition{desc: desc, match: match}
}

// Matches reports whether the event satisfies the condition.
func (c Condition) Matches(event events.Event) bool {
	return c.match(event)
}

func (c Condition) String() string {
	return c.desc
}

// And combines conditions; the result matches an event only if every
// sub-condition does.
func And(conds ...Condition) Condition {
	descs := make([]string, len(conds))
	for i, c := range conds {
		descs[i] = c.desc
	}
	return Condition{
		desc: strings.Join(descs, " and "),
		match: func(event events.Event) bool {
			for _, c := range conds {
				if !c.match(event) {
					return false
				}
			}
			return true
		},
	}
}

// IsStarted matches STARTED events.
func IsStarted() Condition {
	return NewCondition("started", func(e events.Event) bool {
		return e.Kind == events.KindStarted
	})
}

// IsSkipped matches SKIPPED events whose reason contains reasonSubstr
// (an empty string matches any reason).
func IsSkipped(reasonSubstr string) Condition {
	desc := "skipped"
	if reasonSubstr != "" {
		desc = fmt.Sprintf("skipped with reason containing %q", reasonSubstr)
	}
	return NewCondition(desc, func(e events.Event) bool {
		return e.Kind == events.KindSkipped && strings.Contains(e.Reason, reasonSubstr)
	})
}

// IsFinished matches FINISHED events regardless of result.
func IsFinished() Condition {
	return NewCondition("finished", func(e events.Event) bool {
		return e.Kind == events.KindFinished
	})
}

// IsTest matches events concerning leaf test nodes.
func IsTest() Condition {
	return NewCondition("test node", events.Event.IsTest)
}

// IsContainer matches events concerning container nodes.
func IsContainer() Condition {
	return NewCondition("container node", events.Event.IsContainer)
}

// UniqueIDIs matches events whose identifier's canonical form equals id.
func UniqueIDIs(id string) Condition {
	return NewCondition(fmt.Sprintf("unique ID %q", id), func(e events.Event) bool {
		return e.ID.String() == id
	})
}

// UniqueIDEndsWith matches events whose identifier's last segment has the
// given type and value, e.g. ("method", "TestDeposit").
func UniqueIDEndsWith(segmentType, value string) Condition {
	return NewCondition(fmt.Sprintf("unique ID ending in [%s:%s]", segmentType, value), func(e events.Event) bool {
		return e.ID.EndsWith(segmentType, value)
	})
}

// UniqueIDDescendantOf matches events whose identifier lies at or below the
// given ancestor.
func UniqueIDDescendantOf(ancestor uniqueid.UniqueID) Condition {
	return NewCondition(fmt.Sprintf("unique ID under %q", ancestor), func(e events.Event) bool {
		return e.ID.HasPrefix(ancestor)
	})
}

// CauseMatch is a predicate over a FINISHED event's opaque failure cause.
type CauseMatch struct {
	desc  string
	match func(error) bool
}

func (m CauseMatch) String() string {
	return m.desc
}

// AnyCause matches regardless of cause, including a nil cause.
func AnyCause() CauseMatch {
	return CauseMatch{desc: "any cause", match: func(error) bool { return true }}
}

// CauseIsAssertion matches causes in the assertion-failure category.
func CauseIsAssertion() CauseMatch {
	return CauseMatch{desc: "assertion failure", match: func(cause error) bool {
		var target *events.AssertionError
		return errors.As(cause, &target)
	}}
}

// CauseIsAborted matches causes in the unmet-precondition category.
func CauseIsAborted() CauseMatch {
	return CauseMatch{desc: "aborted precondition", match: func(cause error) bool {
		var target *events.AbortedError
		return errors.As(cause, &target)
	}}
}

// CauseContains matches causes whose message contains substr. The message
// is diagnostic payload only; this is for assertions in tests, never for
// control flow.
func CauseContains(substr string) CauseMatch {
	return CauseMatch{desc: fmt.Sprintf("cause containing %q", substr), match: func(cause error) bool {
		return cause != nil && strings.Contains(cause.Error(), substr)
	}}
}

// FinishedSuccessfully matches FINISHED events with a SUCCESSFUL result.
func FinishedSuccessfully() Condition {
	return NewCondition("finished successfully", func(e events.Event) bool {
		return e.Kind == events.KindFinished && e.Result.Status == events.StatusSuccessful
	})
}

// FinishedWithFailure matches FINISHED events with a FAILED result whose
// cause satisfies the given matcher.
func FinishedWithFailure(cause CauseMatch) Condition {
	return NewCondition(fmt.Sprintf("finished with failure (%s)", cause), func(e events.Event) bool {
		return e.Kind == events.KindFinished &&
			e.Result.Status == events.StatusFailed &&
			cause.match(e.Result.Cause)
	})
}

// AbortedWithReason matches FINISHED events with an ABORTED result whose
// cause satisfies the given matcher.
func AbortedWithReason(cause CauseMatch) Condition {
	return NewCondition(fmt.Sprintf("aborted (%s)", cause), func(e events.Event) bool {
		return e.Kind == events.KindFinished &&
			e.Result.Status == events.StatusAborted &&
			cause.match(e.Result.Cause)
	})
}
