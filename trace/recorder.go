// Package trace records a session's execution event stream into a
// queryable log and verifies that the log matches an expected shape. It is
// how executors and listener implementations are validated without
// coupling to engine internals: register a Recorder on the bus, run the
// session, then assert statistics and ordered/loose condition matches over
// the captured trace.
package trace

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-testkit/events"
)

// Recorder is a listener that captures every event of a session.
type Recorder struct {
	mu  sync.Mutex
	log []events.Event
}

var _ events.Listener = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Started(event events.Event)  { r.append(event) }
func (r *Recorder) Skipped(event events.Event)  { r.append(event) }
func (r *Recorder) Finished(event events.Event) { r.append(event) }

func (r *Recorder) append(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, event)
}

// Trace returns a snapshot of the recorded log. The snapshot owns its own
// copy and is unaffected by events recorded afterwards.
func (r *Recorder) Trace() Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := make([]events.Event, len(r.log))
	copy(log, r.log)
	return Trace{log: log}
}

// Trace is an immutable, ordered view over a recorded event log.
type Trace struct {
	log []events.Event
}

// Events returns the events in recorded order.
func (t Trace) Events() []events.Event {
	out := make([]events.Event, len(t.log))
	copy(out, t.log)
	return out
}

// Len returns the number of recorded events.
func (t Trace) Len() int {
	return len(t.log)
}

// Filter returns the sub-trace of events matching pred, preserving order.
func (t Trace) Filter(pred func(events.Event) bool) Trace {
	var out []events.Event
	for _, event := range t.log {
		if pred(event) {
			out = append(out, event)
		}
	}
	return Trace{log: out}
}

// TestEvents selects events concerning leaf test nodes.
func (t Trace) TestEvents() Trace {
	return t.Filter(events.Event.IsTest)
}

// ContainerEvents selects events concerning container nodes.
func (t Trace) ContainerEvents() Trace {
	return t.Filter(events.Event.IsContainer)
}

// Statistics are aggregate counts derived purely from the recorded log.
// For any well-formed session, Started == Succeeded + Aborted + Failed,
// and Started + Skipped equals the total number of nodes considered.
type Statistics struct {
	Started   int
	Skipped   int
	Succeeded int
	Aborted   int
	Failed    int
}

// Statistics computes the aggregate counts over this trace.
func (t Trace) Statistics() Statistics {
	var stats Statistics
	for _, event := range t.log {
		switch event.Kind {
		case events.KindStarted:
			stats.Started++
		case events.KindSkipped:
			stats.Skipped++
		case events.KindFinished:
			switch event.Result.Status {
			case events.StatusSuccessful:
				stats.Succeeded++
			case events.StatusAborted:
				stats.Aborted++
			case events.StatusFailed:
				stats.Failed++
			}
		}
	}
	return stats
}
