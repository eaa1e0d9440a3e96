// Package testkit wires the execution event pipeline into a runnable
// service: it loads a plan, builds a bus with the standard listeners (a
// trace recorder and the unique ID tracking listener), runs the plan once
// or on an interval, and reports results through the summary table, logs,
// metrics, and exit codes.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testkit/events"
	"github.com/ethereum-optimism/infra/op-testkit/exitcodes"
	"github.com/ethereum-optimism/infra/op-testkit/metrics"
	"github.com/ethereum-optimism/infra/op-testkit/runner"
	"github.com/ethereum-optimism/infra/op-testkit/trace"
	"github.com/ethereum-optimism/infra/op-testkit/tracking"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// testkit implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &testkit{}

// SessionResult summarizes one completed session.
type SessionResult struct {
	RunID          string
	Status         events.ResultStatus
	Stats          trace.Statistics
	Trace          trace.Trace
	ListenerErrors []*events.ListenerError
	TrackedIDs     []string
	Duration       time.Duration
}

// testkit runs execution plans and reports on them.
type testkit struct {
	ctx     context.Context
	config  *Config
	version string
	plan    runner.Plan
	result  *SessionResult

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*testkit, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating testkit with config",
		"planPath", config.PlanPath,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"parallel", config.Parallel,
		"trackingEnabled", config.Tracking.Enabled)

	plan, err := runner.LoadPlan(config.PlanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	return &testkit{
		ctx:              ctx,
		config:           config,
		version:          version,
		plan:             plan,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the plan, then either exits (run-once mode) or keeps running
// it at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (t *testkit) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			t.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	t.ctx = ctx
	t.done = make(chan struct{})
	t.running.Store(true)

	if t.config.RunOnce {
		t.config.Log.Info("Starting op-testkit in run-once mode")
	} else {
		t.config.Log.Info("Starting op-testkit in continuous mode", "interval", t.config.RunInterval)
	}

	err := t.runSession()
	if err != nil {
		t.config.Log.Error("Runtime error running session", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if t.config.RunOnce {
		t.config.Log.Info("Session completed, exiting (run-once mode)")

		if t.result != nil && t.result.Status == events.StatusFailed {
			t.config.Log.Warn("Run-once session completed with failures, returning exit code 1")
			return NewTestFailureError(fmt.Sprintf("%d of %d tests failed", t.result.Stats.Failed, t.result.Stats.Started))
		}

		// Only need to call this when we're in run-once mode and all tests passed
		go func() {
			t.shutdownCallback(nil)
		}()
		return nil
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.config.Log.Debug("Starting periodic session goroutine", "interval", t.config.RunInterval)

		for {
			select {
			case <-time.After(t.config.RunInterval):
				if !t.running.Load() {
					t.config.Log.Debug("Service stopped, exiting periodic session runner")
					return
				}

				t.config.Log.Info("Running periodic session")
				if err := t.runSession(); err != nil {
					t.config.Log.Error("Error running periodic session", "error", err)
				}

			case <-t.done:
				t.config.Log.Debug("Done signal received, stopping periodic session runner")
				return

			case <-ctx.Done():
				t.config.Log.Debug("Context canceled, stopping periodic session runner")
				t.running.Store(false)
				return
			}
		}
	}()
	t.config.Log.Debug("op-testkit started successfully")
	return nil
}

// runSession executes the plan once against a fresh bus and processes the
// outcome.
func (t *testkit) runSession() error {
	ctx, span := otel.Tracer("op-testkit").Start(t.ctx, "session",
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal))
	defer span.End()

	bus := events.NewBus(events.BusConfig{Log: t.config.Log})
	recorder := trace.NewRecorder()
	tracker := tracking.NewListener(t.config.Tracking)

	// The tracking listener is registered unconditionally: when disabled
	// it accumulates nothing and touches no files.
	for _, listener := range []events.Listener{recorder, tracker} {
		if err := bus.Register(listener); err != nil {
			return NewRuntimeError(err)
		}
	}

	r, err := runner.NewRunner(runner.Config{
		Plan:     t.plan,
		Log:      t.config.Log,
		Parallel: t.config.Parallel,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	t.config.Log.Info("Running session", "run_id", bus.RunID(), "engine", t.plan.Engine)
	start := time.Now()
	status, err := r.Run(ctx, bus)
	duration := time.Since(start)
	if err != nil {
		// This is a runtime error (not a test failure)
		t.config.Log.Error("Runtime error running plan", "error", err)
		return NewRuntimeError(err)
	}

	// Infrastructure faults travel on their own channel, apart from the
	// test results: listener panics collected by the bus, plus the
	// tracking listener's write error, if any.
	listenerErrs := bus.ListenerErrors()
	if werr := tracker.WriteError(); werr != nil {
		listenerErrs = append(listenerErrs, &events.ListenerError{Listener: tracker, Err: werr})
		metrics.RecordListenerError(bus.RunID())
	}
	for _, lerr := range listenerErrs {
		t.config.Log.Error("Listener error during session", "run_id", bus.RunID(), "error", lerr)
	}

	stats := recorder.Trace().TestEvents().Statistics()
	t.result = &SessionResult{
		RunID:          bus.RunID(),
		Status:         status,
		Stats:          stats,
		Trace:          recorder.Trace(),
		ListenerErrors: listenerErrs,
		TrackedIDs:     tracker.UniqueIDs(),
		Duration:       duration,
	}

	metrics.RecordSession(bus.RunID(), string(status),
		stats.Started, stats.Succeeded, stats.Aborted, stats.Failed, stats.Skipped, duration)

	t.printSummary()
	t.config.Log.Info("Session completed", "run_id", bus.RunID(), "status", status)
	return nil
}

// Result returns the outcome of the most recent session.
func (t *testkit) Result() *SessionResult {
	return t.result
}

// Stop stops the op-testkit service.
// Stop implements the cliapp.Lifecycle interface.
func (t *testkit) Stop(ctx context.Context) error {
	t.config.Log.Info("Stopping op-testkit")

	if !t.running.Load() {
		t.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new session runs
	t.running.Store(false)

	t.config.Log.Debug("Sending done signal to goroutines")
	close(t.done)

	t.config.Log.Info("op-testkit stopped successfully")
	return nil
}

// Stopped returns true if the op-testkit service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (t *testkit) Stopped() bool {
	return !t.running.Load()
}
