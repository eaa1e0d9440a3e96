// Package runner executes declarative test plans against an event bus. It
// plays the role of the external executor in the reporting pipeline: it
// walks a plan's tree, publishes the lifecycle event stream (container
// STARTED before descendants, FINISHED after all children are terminal,
// exactly one root FINISHED), and leaves observation entirely to the
// listeners registered on the bus.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-testkit/events"
	"github.com/ethereum-optimism/infra/op-testkit/uniqueid"
)

// Config configures a Runner.
type Config struct {
	Plan Plan
	Log  log.Logger
	// Parallel is the maximum number of sibling containers executed
	// concurrently. Zero or one means serial execution.
	Parallel int
}

// Runner walks a plan and drives a bus.
type Runner struct {
	plan     Plan
	log      log.Logger
	parallel int
}

// NewRunner validates the plan and creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Runner{
		plan:     cfg.Plan,
		log:      logger,
		parallel: cfg.Parallel,
	}, nil
}

// Run executes the plan once, publishing the full session event stream on
// bus. It returns the aggregate leaf status: FAILED if any leaf test
// failed, SUCCESSFUL otherwise (aborted and skipped leaves do not fail a
// run).
func (r *Runner) Run(ctx context.Context, bus *events.Bus) (events.ResultStatus, error) {
	root := uniqueid.Root(uniqueid.SegmentEngine, r.plan.Engine)
	r.log.Debug("Running plan", "engine", r.plan.Engine, "containers", len(r.plan.Containers), "parallel", r.parallel)

	if err := bus.PublishStarted(root, events.NodeKindContainer); err != nil {
		return events.StatusFailed, err
	}

	var anyFailed atomic.Bool
	var runErr error
	if r.parallel > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.parallel)
		for _, container := range r.plan.Containers {
			g.Go(func() error {
				return r.runContainer(gctx, bus, root, container, &anyFailed)
			})
		}
		runErr = g.Wait()
	} else {
		for _, container := range r.plan.Containers {
			if runErr = r.runContainer(ctx, bus, root, container, &anyFailed); runErr != nil {
				break
			}
		}
	}
	if runErr != nil {
		// Terminate the session anyway so listeners can finalize.
		if err := bus.PublishFinished(root, events.NodeKindContainer, events.Failed(runErr)); err != nil {
			r.log.Error("Failed to publish root finish after run error", "error", err)
		}
		return events.StatusFailed, runErr
	}

	if err := bus.PublishFinished(root, events.NodeKindContainer, events.Successful()); err != nil {
		return events.StatusFailed, err
	}
	if anyFailed.Load() {
		return events.StatusFailed, nil
	}
	return events.StatusSuccessful, nil
}

func (r *Runner) runContainer(ctx context.Context, bus *events.Bus, root uniqueid.UniqueID, spec ContainerSpec, anyFailed *atomic.Bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := root.Append(uniqueid.SegmentClass, spec.Name)
	if err := bus.PublishStarted(id, events.NodeKindContainer); err != nil {
		return err
	}
	for _, test := range spec.Tests {
		if err := r.runTest(ctx, bus, id, test); err != nil {
			return err
		}
		if test.Outcome == OutcomeFail {
			anyFailed.Store(true)
		}
	}
	for _, factory := range spec.Factories {
		if err := r.runFactory(ctx, bus, id, factory); err != nil {
			return err
		}
	}
	// All children are terminal at this point, so the container may finish.
	return bus.PublishFinished(id, events.NodeKindContainer, events.Successful())
}

func (r *Runner) runTest(ctx context.Context, bus *events.Bus, parent uniqueid.UniqueID, spec TestSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := parent.Append(uniqueid.SegmentMethod, spec.Name)

	if spec.Outcome == OutcomeSkip {
		reason := spec.Reason
		if reason == "" {
			reason = "skipped"
		}
		return bus.PublishSkipped(id, events.NodeKindTest, reason)
	}

	if err := bus.PublishStarted(id, events.NodeKindTest); err != nil {
		return err
	}
	var result events.Result
	switch spec.Outcome {
	case OutcomePass:
		result = events.Successful()
	case OutcomeAbort:
		reason := spec.Reason
		if reason == "" {
			reason = "precondition not met"
		}
		result = events.Aborted(&events.AbortedError{Reason: reason})
	case OutcomeFail:
		msg := spec.Message
		if msg == "" {
			msg = "assertion failed"
		}
		result = events.Failed(&events.AssertionError{Msg: msg})
	}
	return bus.PublishFinished(id, events.NodeKindTest, result)
}

// runFactory executes a test factory: its children do not exist in the
// plan tree, they are generated and given identifiers while the session is
// already running.
func (r *Runner) runFactory(ctx context.Context, bus *events.Bus, parent uniqueid.UniqueID, spec FactorySpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := parent.Append(uniqueid.SegmentTestFactory, spec.Name)
	if err := bus.PublishStarted(id, events.NodeKindContainer); err != nil {
		return err
	}
	for i := 1; i <= spec.Generate; i++ {
		dynamic := id.Append(uniqueid.SegmentDynamicTest, fmt.Sprintf("#%d", i))
		if err := bus.PublishStarted(dynamic, events.NodeKindTest); err != nil {
			return err
		}
		if err := bus.PublishFinished(dynamic, events.NodeKindTest, events.Successful()); err != nil {
			return err
		}
	}
	return bus.PublishFinished(id, events.NodeKindContainer, events.Successful())
}
