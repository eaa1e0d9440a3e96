package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/events"
	"github.com/ethereum-optimism/infra/op-testkit/trace"
)

func loadTestPlan(t *testing.T) Plan {
	t.Helper()
	plan, err := LoadPlan("testdata/plan.yaml")
	require.NoError(t, err)
	return plan
}

func TestLoadPlan(t *testing.T) {
	plan := loadTestPlan(t)

	assert.Equal(t, "gotest", plan.Engine)
	require.Len(t, plan.Containers, 2)
	assert.Len(t, plan.Containers[0].Tests, 4)
	require.Len(t, plan.Containers[0].Factories, 1)
	assert.Equal(t, 2, plan.Containers[0].Factories[0].Generate)
	assert.Len(t, plan.Containers[1].Tests, 2)
}

func TestParsePlan_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing engine",
			yaml:    "containers:\n  - name: A\n    tests:\n      - {name: t, outcome: pass}\n",
			wantErr: "missing an engine",
		},
		{
			name:    "no containers",
			yaml:    "engine: gotest\n",
			wantErr: "no containers",
		},
		{
			name:    "nameless container",
			yaml:    "engine: gotest\ncontainers:\n  - tests:\n      - {name: t, outcome: pass}\n",
			wantErr: "container with no name",
		},
		{
			name:    "duplicate container",
			yaml:    "engine: gotest\ncontainers:\n  - name: A\n    tests: [{name: t, outcome: pass}]\n  - name: A\n    tests: [{name: u, outcome: pass}]\n",
			wantErr: "duplicate container",
		},
		{
			name:    "empty container",
			yaml:    "engine: gotest\ncontainers:\n  - name: A\n",
			wantErr: "no tests or factories",
		},
		{
			name:    "unknown outcome",
			yaml:    "engine: gotest\ncontainers:\n  - name: A\n    tests: [{name: t, outcome: explode}]\n",
			wantErr: "unknown outcome",
		},
		{
			name:    "duplicate test",
			yaml:    "engine: gotest\ncontainers:\n  - name: A\n    tests: [{name: t, outcome: pass}, {name: t, outcome: fail}]\n",
			wantErr: "duplicate test",
		},
		{
			name:    "factory generates nothing",
			yaml:    "engine: gotest\ncontainers:\n  - name: A\n    factories: [{name: f, generate: 0}]\n",
			wantErr: "at least one test",
		},
		{
			name:    "not yaml",
			yaml:    "engine: [unterminated",
			wantErr: "failed to parse plan YAML",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func runPlan(t *testing.T, parallel int) (events.ResultStatus, trace.Trace, *events.Bus) {
	t.Helper()
	bus := events.NewBus(events.BusConfig{})
	recorder := trace.NewRecorder()
	require.NoError(t, bus.Register(recorder))

	r, err := NewRunner(Config{Plan: loadTestPlan(t), Parallel: parallel})
	require.NoError(t, err)

	status, err := r.Run(context.Background(), bus)
	require.NoError(t, err)
	return status, recorder.Trace(), bus
}

func TestRunner_EmitsWellFormedStream(t *testing.T) {
	status, tr, bus := runPlan(t, 0)

	// The plan contains a failing test.
	assert.Equal(t, events.StatusFailed, status)
	assert.True(t, bus.Done())
	assert.Empty(t, bus.ListenerErrors())

	stats := tr.TestEvents().Statistics()
	assert.Equal(t, trace.Statistics{
		Started:   7,
		Skipped:   1,
		Succeeded: 5,
		Aborted:   1,
		Failed:    1,
	}, stats)
}

func TestRunner_ContainerOrdering(t *testing.T) {
	_, tr, _ := runPlan(t, 0)

	err := trace.MatchLoosely(tr,
		trace.And(trace.IsContainer(), trace.UniqueIDIs("[engine:gotest]"), trace.IsStarted()),
		trace.And(trace.IsContainer(), trace.UniqueIDIs("[engine:gotest]/[class:TestCase1]"), trace.IsStarted()),
		trace.And(trace.IsTest(), trace.UniqueIDIs("[engine:gotest]/[class:TestCase1]/[method:passingTest]"), trace.FinishedSuccessfully()),
		trace.And(trace.IsContainer(), trace.UniqueIDIs("[engine:gotest]/[class:TestCase1]"), trace.FinishedSuccessfully()),
		trace.And(trace.IsContainer(), trace.UniqueIDIs("[engine:gotest]"), trace.IsFinished()),
	)
	require.NoError(t, err)

	// Exactly one root FINISHED terminates the session.
	rootFinishes := tr.Filter(trace.And(trace.UniqueIDIs("[engine:gotest]"), trace.IsFinished()).Matches)
	assert.Equal(t, 1, rootFinishes.Len())
	last := tr.Events()[tr.Len()-1]
	assert.Equal(t, "[engine:gotest]", last.ID.String())
	assert.Equal(t, events.KindFinished, last.Kind)
}

func TestRunner_DynamicTestsGetLazyIdentifiers(t *testing.T) {
	_, tr, _ := runPlan(t, 0)

	err := trace.MatchLoosely(tr,
		trace.And(trace.IsContainer(), trace.UniqueIDIs("[engine:gotest]/[class:TestCase1]/[test-factory:dynamicTests]"), trace.IsStarted()),
		trace.And(trace.IsTest(), trace.UniqueIDIs("[engine:gotest]/[class:TestCase1]/[test-factory:dynamicTests]/[dynamic-test:#1]"), trace.FinishedSuccessfully()),
		trace.And(trace.IsTest(), trace.UniqueIDIs("[engine:gotest]/[class:TestCase1]/[test-factory:dynamicTests]/[dynamic-test:#2]"), trace.FinishedSuccessfully()),
	)
	require.NoError(t, err)
}

func TestRunner_ParallelContainersPreservePerSubtreeOrder(t *testing.T) {
	status, tr, bus := runPlan(t, 4)

	assert.Equal(t, events.StatusFailed, status)
	assert.True(t, bus.Done())

	// Statistics are identical under parallel scheduling.
	stats := tr.TestEvents().Statistics()
	assert.Equal(t, 7, stats.Started)
	assert.Equal(t, 1, stats.Skipped)

	// Events within each subtree keep their partial order even though
	// sibling subtrees interleave freely.
	for _, container := range []string{"TestCase1", "TestCase2"} {
		err := trace.MatchLoosely(tr,
			trace.And(trace.UniqueIDIs("[engine:gotest]/[class:"+container+"]"), trace.IsStarted()),
			trace.And(trace.UniqueIDIs("[engine:gotest]/[class:"+container+"]"), trace.IsFinished()),
		)
		require.NoError(t, err, container)
	}
}

func TestRunner_AllPassingPlanSucceeds(t *testing.T) {
	plan := Plan{
		Engine: "gotest",
		Containers: []ContainerSpec{
			{Name: "Only", Tests: []TestSpec{{Name: "t1", Outcome: OutcomePass}}},
		},
	}
	bus := events.NewBus(events.BusConfig{})
	r, err := NewRunner(Config{Plan: plan})
	require.NoError(t, err)

	status, err := r.Run(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, events.StatusSuccessful, status)
}

func TestRunner_AbortsAndSkipsDoNotFailRun(t *testing.T) {
	plan := Plan{
		Engine: "gotest",
		Containers: []ContainerSpec{
			{Name: "Only", Tests: []TestSpec{
				{Name: "aborted", Outcome: OutcomeAbort},
				{Name: "skipped", Outcome: OutcomeSkip},
			}},
		},
	}
	bus := events.NewBus(events.BusConfig{})
	r, err := NewRunner(Config{Plan: plan})
	require.NoError(t, err)

	status, err := r.Run(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, events.StatusSuccessful, status)
}

func TestRunner_CancelledContextStopsExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := events.NewBus(events.BusConfig{})
	r, err := NewRunner(Config{Plan: loadTestPlan(t)})
	require.NoError(t, err)

	status, err := r.Run(ctx, bus)
	require.Error(t, err)
	assert.Equal(t, events.StatusFailed, status)
	// The session is still terminated by a root FINISHED.
	assert.True(t, bus.Done())
}

func TestNewRunner_RejectsInvalidPlan(t *testing.T) {
	_, err := NewRunner(Config{Plan: Plan{}})
	require.Error(t, err)
}
