package events

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/uniqueid"
)

// recordingListener appends a tag per callback so tests can verify
// registration-order delivery.
type recordingListener struct {
	name string
	into *[]string
}

func (l *recordingListener) Started(e Event)  { *l.into = append(*l.into, l.name+":started:"+e.ID.String()) }
func (l *recordingListener) Skipped(e Event)  { *l.into = append(*l.into, l.name+":skipped:"+e.ID.String()) }
func (l *recordingListener) Finished(e Event) { *l.into = append(*l.into, l.name+":finished:"+e.ID.String()) }

// panickyListener fails on Finished for a single identifier.
type panickyListener struct {
	target uniqueid.UniqueID
}

func (l *panickyListener) Started(Event) {}
func (l *panickyListener) Skipped(Event) {}
func (l *panickyListener) Finished(e Event) {
	if e.ID.Equals(l.target) {
		panic(errors.New("listener exploded"))
	}
}

func newTestIDs() (root, leaf uniqueid.UniqueID) {
	root = uniqueid.Root(uniqueid.SegmentEngine, "gotest")
	leaf = root.Append(uniqueid.SegmentMethod, "TestA")
	return root, leaf
}

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	var got []string
	bus := NewBus(BusConfig{})
	require.NoError(t, bus.Register(&recordingListener{name: "first", into: &got}))
	require.NoError(t, bus.Register(&recordingListener{name: "second", into: &got}))

	root, leaf := newTestIDs()
	require.NoError(t, bus.PublishStarted(root, NodeKindContainer))
	require.NoError(t, bus.PublishStarted(leaf, NodeKindTest))
	require.NoError(t, bus.PublishFinished(leaf, NodeKindTest, Successful()))
	require.NoError(t, bus.PublishFinished(root, NodeKindContainer, Successful()))

	assert.Equal(t, []string{
		"first:started:" + root.String(),
		"second:started:" + root.String(),
		"first:started:" + leaf.String(),
		"second:started:" + leaf.String(),
		"first:finished:" + leaf.String(),
		"second:finished:" + leaf.String(),
		"first:finished:" + root.String(),
		"second:finished:" + root.String(),
	}, got)
	assert.True(t, bus.Done())
	assert.True(t, bus.Root().Equals(root))
}

func TestBus_RegistrationSealedByFirstEvent(t *testing.T) {
	var got []string
	bus := NewBus(BusConfig{})
	require.NoError(t, bus.Register(&recordingListener{name: "early", into: &got}))

	root, _ := newTestIDs()
	require.NoError(t, bus.PublishStarted(root, NodeKindContainer))

	err := bus.Register(&recordingListener{name: "late", into: &got})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestBus_EnforcesPerIdentifierLifecycle(t *testing.T) {
	root, leaf := newTestIDs()

	tests := []struct {
		name    string
		publish func(bus *Bus) error
	}{
		{
			name: "started twice",
			publish: func(bus *Bus) error {
				require.NoError(t, bus.PublishStarted(leaf, NodeKindTest))
				return bus.PublishStarted(leaf, NodeKindTest)
			},
		},
		{
			name: "skipped after started",
			publish: func(bus *Bus) error {
				require.NoError(t, bus.PublishStarted(leaf, NodeKindTest))
				return bus.PublishSkipped(leaf, NodeKindTest, "too late")
			},
		},
		{
			name: "started after skipped",
			publish: func(bus *Bus) error {
				require.NoError(t, bus.PublishSkipped(leaf, NodeKindTest, "disabled"))
				return bus.PublishStarted(leaf, NodeKindTest)
			},
		},
		{
			name: "finished without started",
			publish: func(bus *Bus) error {
				return bus.PublishFinished(leaf, NodeKindTest, Successful())
			},
		},
		{
			name: "finished twice",
			publish: func(bus *Bus) error {
				require.NoError(t, bus.PublishStarted(leaf, NodeKindTest))
				require.NoError(t, bus.PublishFinished(leaf, NodeKindTest, Successful()))
				return bus.PublishFinished(leaf, NodeKindTest, Successful())
			},
		},
		{
			name: "finished after skipped",
			publish: func(bus *Bus) error {
				require.NoError(t, bus.PublishSkipped(leaf, NodeKindTest, "disabled"))
				return bus.PublishFinished(leaf, NodeKindTest, Successful())
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bus := NewBus(BusConfig{})
			require.NoError(t, bus.PublishStarted(root, NodeKindContainer))

			err := tc.publish(bus)
			require.Error(t, err)

			var seqErr *SequenceError
			require.ErrorAs(t, err, &seqErr)
			assert.True(t, seqErr.ID.Equals(leaf))
		})
	}
}

func TestBus_DynamicIdentifiersFollowSameLifecycle(t *testing.T) {
	bus := NewBus(BusConfig{})
	root, _ := newTestIDs()
	require.NoError(t, bus.PublishStarted(root, NodeKindContainer))

	// Identifier first seen mid-session, e.g. a generated test case.
	dynamic := root.
		Append(uniqueid.SegmentTestFactory, "dynamicTests").
		Append(uniqueid.SegmentDynamicTest, "#1")
	require.NoError(t, bus.PublishStarted(dynamic, NodeKindTest))
	require.NoError(t, bus.PublishFinished(dynamic, NodeKindTest, Successful()))

	err := bus.PublishStarted(dynamic, NodeKindTest)
	require.Error(t, err)
}

func TestBus_ListenerPanicIsIsolated(t *testing.T) {
	var got []string
	root, leaf := newTestIDs()
	other := root.Append(uniqueid.SegmentMethod, "TestB")

	bus := NewBus(BusConfig{})
	require.NoError(t, bus.Register(&panickyListener{target: leaf}))
	require.NoError(t, bus.Register(&recordingListener{name: "after", into: &got}))

	require.NoError(t, bus.PublishStarted(root, NodeKindContainer))
	require.NoError(t, bus.PublishStarted(leaf, NodeKindTest))
	require.NoError(t, bus.PublishFinished(leaf, NodeKindTest, Failed(&AssertionError{Msg: "boom"})))
	require.NoError(t, bus.PublishStarted(other, NodeKindTest))
	require.NoError(t, bus.PublishFinished(other, NodeKindTest, Successful()))
	require.NoError(t, bus.PublishFinished(root, NodeKindContainer, Successful()))

	// The listener after the panicking one still saw every event,
	// including the one that triggered the panic.
	assert.Contains(t, got, "after:finished:"+leaf.String())
	assert.Contains(t, got, "after:finished:"+other.String())

	errs := bus.ListenerErrors()
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Event.ID.Equals(leaf))
	assert.Contains(t, errs[0].Error(), "listener exploded")

	// The fault stayed on the listener channel; the node's own result is
	// untouched.
	require.NotNil(t, errs[0].Event.Result)
	assert.Equal(t, StatusFailed, errs[0].Event.Result.Status)
}

// countingListener tallies callbacks under its own lock, the way a real
// stateful listener must.
type countingListener struct {
	mu       sync.Mutex
	finished int
}

func (l *countingListener) Started(Event) {}
func (l *countingListener) Skipped(Event) {}
func (l *countingListener) Finished(Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished++
}

func TestBus_ConcurrentPublishersSerializeDelivery(t *testing.T) {
	bus := NewBus(BusConfig{})
	counter := &countingListener{}
	require.NoError(t, bus.Register(counter))

	root := uniqueid.Root(uniqueid.SegmentEngine, "gotest")
	require.NoError(t, bus.PublishStarted(root, NodeKindContainer))

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := root.Append(uniqueid.SegmentMethod, fmt.Sprintf("TestW%dN%d", w, i))
				require.NoError(t, bus.PublishStarted(id, NodeKindTest))
				require.NoError(t, bus.PublishFinished(id, NodeKindTest, Successful()))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, bus.PublishFinished(root, NodeKindContainer, Successful()))

	counter.mu.Lock()
	defer counter.mu.Unlock()
	assert.Equal(t, workers*perWorker+1, counter.finished)
	assert.Empty(t, bus.ListenerErrors())
}

func TestResultConstructors(t *testing.T) {
	assert.Equal(t, StatusSuccessful, Successful().Status)
	assert.Nil(t, Successful().Cause)

	aborted := Aborted(&AbortedError{Reason: "precondition"})
	assert.Equal(t, StatusAborted, aborted.Status)
	var abortErr *AbortedError
	require.ErrorAs(t, aborted.Cause, &abortErr)

	failed := Failed(&AssertionError{Msg: "want 3, got 4"})
	assert.Equal(t, StatusFailed, failed.Status)
	var assertErr *AssertionError
	require.ErrorAs(t, failed.Cause, &assertErr)
}
