// Package events defines the execution event model and the synchronous
// event bus that fans lifecycle events out to registered listeners. The
// event vocabulary is a closed set: three event kinds crossed with three
// terminal result statuses, so consumers can handle outcomes exhaustively.
package events

import (
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-testkit/uniqueid"
)

// Kind identifies the lifecycle transition an event reports.
type Kind string

const (
	KindStarted  Kind = "started"
	KindSkipped  Kind = "skipped"
	KindFinished Kind = "finished"
)

// NodeKind distinguishes leaf tests from container nodes. Only TEST nodes
// carry a pass/fail/abort outcome of their own; containers aggregate.
type NodeKind string

const (
	NodeKindContainer NodeKind = "container"
	NodeKindTest      NodeKind = "test"
)

// ResultStatus is the terminal status carried by a FINISHED event.
type ResultStatus string

const (
	StatusSuccessful ResultStatus = "successful"
	// StatusAborted signals an unmet precondition. It is not a failure.
	StatusAborted ResultStatus = "aborted"
	StatusFailed  ResultStatus = "failed"
)

// Result is the outcome of a finished node. Cause is opaque diagnostic
// payload for downstream consumers; it must never be parsed for control
// flow.
type Result struct {
	Status ResultStatus
	Cause  error
}

// Successful returns a passing result.
func Successful() Result {
	return Result{Status: StatusSuccessful}
}

// Aborted returns a result for a node whose precondition was not met.
func Aborted(cause error) Result {
	return Result{Status: StatusAborted, Cause: cause}
}

// Failed returns a result for a node that failed an assertion or hit an
// unexpected error.
func Failed(cause error) Result {
	return Result{Status: StatusFailed, Cause: cause}
}

// AssertionError is the cause category for assertion failures, so trace
// conditions can match on the failure's category without inspecting
// message text.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s", e.Msg)
}

// AbortedError is the cause category for unmet preconditions.
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("execution aborted: %s", e.Reason)
}

// Event is one immutable entry in a session's lifecycle stream.
type Event struct {
	Kind      Kind
	ID        uniqueid.UniqueID
	NodeKind  NodeKind
	Timestamp time.Time

	// Result is set only on FINISHED events.
	Result *Result
	// Reason is set only on SKIPPED events.
	Reason string
}

// IsTest reports whether the event concerns a leaf test node.
func (e Event) IsTest() bool {
	return e.NodeKind == NodeKindTest
}

// IsContainer reports whether the event concerns a container node.
func (e Event) IsContainer() bool {
	return e.NodeKind == NodeKindContainer
}

// Listener observes the lifecycle event stream of one session. The bus
// invokes callbacks from whichever goroutine publishes the event, so
// implementations must tolerate concurrent invocation and synchronize any
// state they accumulate.
type Listener interface {
	// Started is invoked when a node begins executing.
	Started(event Event)
	// Skipped is invoked for a node that never starts, with the reason.
	Skipped(event Event)
	// Finished is invoked when a started node reaches a terminal result.
	Finished(event Event)
}
