package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-testkit/metrics"
	"github.com/ethereum-optimism/infra/op-testkit/uniqueid"
)

// nodeState tracks the per-identifier lifecycle. Absence from the state map
// means NOT_STARTED.
type nodeState int

const (
	stateStarted nodeState = iota
	stateSkipped
	stateFinished
)

func (s nodeState) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateSkipped:
		return "skipped"
	case stateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SequenceError reports a publish call that would violate the per-identifier
// lifecycle (NOT_STARTED -> SKIPPED, or NOT_STARTED -> STARTED -> FINISHED;
// both SKIPPED and FINISHED are terminal).
type SequenceError struct {
	ID    uniqueid.UniqueID
	Kind  Kind
	State string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("cannot publish %s for %q: node is already %s", e.Kind, e.ID, e.State)
}

// ListenerError records a fault raised by a listener callback during event
// delivery. Listener faults are a distinct failure class from test results:
// they are collected and reported by the bus, never attached to a node's
// outcome, and never interrupt delivery to other listeners.
type ListenerError struct {
	Listener Listener
	Event    Event
	Err      error
}

func (e *ListenerError) Error() string {
	if e.Event.Kind == "" {
		return fmt.Sprintf("listener %T failed: %v", e.Listener, e.Err)
	}
	return fmt.Sprintf("listener %T failed handling %s event for %q: %v", e.Listener, e.Event.Kind, e.Event.ID, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// BusConfig configures a Bus.
type BusConfig struct {
	Log log.Logger
}

// Bus is the single producer of a session's totally-ordered event stream.
// Each publish delivers the event synchronously to every registered
// listener, in registration order, before returning. The bus imposes no
// scheduling of its own; multiple executor goroutines may publish
// concurrently and delivery is serialized under an internal mutex so the
// stream every listener observes is identical.
type Bus struct {
	log   log.Logger
	runID string

	mu        sync.Mutex
	listeners []Listener
	sealed    bool
	states    map[string]nodeState
	rootID    uniqueid.UniqueID
	done      bool
	errs      []*ListenerError
}

// NewBus creates a bus for one execution session. Listeners are registered
// explicitly before the first event; there is no runtime discovery.
func NewBus(cfg BusConfig) *Bus {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Bus{
		log:    cfg.Log,
		runID:  uuid.New().String(),
		states: make(map[string]nodeState),
	}
}

// RunID returns the session identifier assigned at bus creation.
func (b *Bus) RunID() string {
	return b.runID
}

// Register adds a listener. The listener set is sealed by the first
// published event; registering after that returns an error.
func (b *Bus) Register(listener Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return fmt.Errorf("cannot register listener %T: session has already started", listener)
	}
	b.listeners = append(b.listeners, listener)
	return nil
}

// PublishStarted reports that a node began executing. The first event of a
// session seals the listener set and designates its identifier as the
// session root.
func (b *Bus) PublishStarted(id uniqueid.UniqueID, nodeKind NodeKind) error {
	return b.publish(Event{Kind: KindStarted, ID: id, NodeKind: nodeKind})
}

// PublishSkipped reports a node that will never start, with the reason.
func (b *Bus) PublishSkipped(id uniqueid.UniqueID, nodeKind NodeKind, reason string) error {
	return b.publish(Event{Kind: KindSkipped, ID: id, NodeKind: nodeKind, Reason: reason})
}

// PublishFinished reports the terminal result of a started node. The root
// node's FINISHED event ends the session.
func (b *Bus) PublishFinished(id uniqueid.UniqueID, nodeKind NodeKind, result Result) error {
	res := result
	return b.publish(Event{Kind: KindFinished, ID: id, NodeKind: nodeKind, Result: &res})
}

func (b *Bus) publish(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transition(event); err != nil {
		return err
	}

	if !b.sealed {
		b.sealed = true
		b.rootID = event.ID
		b.log.Debug("Session started", "run_id", b.runID, "root", event.ID.String())
	}
	event.Timestamp = time.Now()

	for _, listener := range b.listeners {
		b.deliver(listener, event)
	}
	metrics.RecordEventPublished(b.runID, string(event.Kind))

	if event.Kind == KindFinished && event.ID.Equals(b.rootID) {
		b.done = true
		b.log.Debug("Session finished", "run_id", b.runID, "root", event.ID.String())
	}
	return nil
}

// transition enforces the per-identifier state machine. Dynamic nodes are
// simply identifiers first seen mid-session; they follow the same rules.
func (b *Bus) transition(event Event) error {
	key := event.ID.String()
	state, seen := b.states[key]
	switch event.Kind {
	case KindStarted:
		if seen {
			return &SequenceError{ID: event.ID, Kind: event.Kind, State: state.String()}
		}
		b.states[key] = stateStarted
	case KindSkipped:
		if seen {
			return &SequenceError{ID: event.ID, Kind: event.Kind, State: state.String()}
		}
		b.states[key] = stateSkipped
	case KindFinished:
		if !seen {
			return &SequenceError{ID: event.ID, Kind: event.Kind, State: "not started"}
		}
		if state != stateStarted {
			return &SequenceError{ID: event.ID, Kind: event.Kind, State: state.String()}
		}
		b.states[key] = stateFinished
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return nil
}

// deliver invokes one listener callback, converting a panic into a
// recorded ListenerError so delivery continues for the remaining listeners
// and subsequent nodes.
func (b *Bus) deliver(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			lerr := &ListenerError{Listener: listener, Event: event, Err: err}
			b.errs = append(b.errs, lerr)
			metrics.RecordListenerError(b.runID)
			b.log.Error("Listener failed during event delivery",
				"run_id", b.runID,
				"listener", fmt.Sprintf("%T", listener),
				"event", event.Kind,
				"id", event.ID.String(),
				"error", err)
		}
	}()

	switch event.Kind {
	case KindStarted:
		listener.Started(event)
	case KindSkipped:
		listener.Skipped(event)
	case KindFinished:
		listener.Finished(event)
	}
}

// Done reports whether the session's root FINISHED event has been
// published.
func (b *Bus) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Root returns the session root identifier, the zero ID before the first
// event.
func (b *Bus) Root() uniqueid.UniqueID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rootID
}

// ListenerErrors returns a snapshot of the listener faults collected so
// far. Callers use this to distinguish "a test failed" from "the reporting
// pipeline failed".
func (b *Bus) ListenerErrors() []*ListenerError {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ListenerError, len(b.errs))
	copy(out, b.errs)
	return out
}
