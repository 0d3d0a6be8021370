package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Hour}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(jobEvent("j1", StageJobStart))
	hub.Emit(jobEvent("j2", StageJobStart))

	require.Eventually(t, func() bool { return len(sink.batches()) == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, sink.batches()[0], 2)
}

func TestHubFlushesAfterMaxWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(jobEvent("j1", StageJobStart))
	require.Eventually(t, func() bool { return len(sink.batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnJobDone(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(jobEvent("j1", StageJobStart))
	done := jobEvent("j1", StageJobDone)
	done.Status = "completed"
	hub.Emit(done)

	require.Eventually(t, func() bool { return len(sink.batches()) == 1 }, time.Second, 5*time.Millisecond)
	stages := []Stage{sink.batches()[0][0].Stage, sink.batches()[0][1].Stage}
	require.Equal(t, []Stage{StageJobStart, StageJobDone}, stages)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink, nil)

	hub.Emit(jobEvent("j1", StageJobStart))
	hub.Emit(jobEvent("j2", StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.batches(), 1)
	require.Len(t, sink.batches()[0], 2)
	require.True(t, sink.isClosed())

	hub.Emit(jobEvent("j3", StageJobStart))
	require.Len(t, sink.batches(), 1, "events after Close are discarded")
}

func TestHubStampsAndValidates(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 10, MaxBatchWait: time.Hour}, sink)

	hub.Emit(Event{JobID: "a", Stage: StageJobStart})
	hub.Emit(Event{Stage: StageJobStart})
	hub.Emit(Event{JobID: "b", Stage: StageJobDone})
	hub.Emit(Event{JobID: "c", Stage: StageArtifactFailed})
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, "a", batches[0][0].JobID)
	require.False(t, batches[0][0].TS.IsZero())
}

func TestHubKeepsServingWhenASinkFails(t *testing.T) {
	t.Parallel()

	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("sink down")}
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Hour}, bad, good)

	hub.Emit(jobEvent("j1", StageJobStart))
	hub.Emit(jobEvent("j2", StageJobStart))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, good.batches(), 2)
	require.Len(t, bad.batches(), 2)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event, 1), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(jobEvent("j1", StageJobStart))
	hub.Emit(jobEvent("j2", StageJobStart))
	hub.Emit(jobEvent("j3", StageJobStart))

	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

func TestHubCloseHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := &recordingSink{block: release}
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Hour}, slow)
	hub.Emit(jobEvent("j1", StageJobStart))
	require.Eventually(t, slow.isBlocked, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, hub.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(Config{MaxBatchWait: time.Millisecond}, &recordingSink{})
	hub.Emit(jobEvent("j1", StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
}

// --- fakes ---

type recordingSink struct {
	err   error
	block chan struct{}

	mu      sync.Mutex
	got     [][]Event
	closed  bool
	blocked bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	s.got = append(s.got, append([]Event(nil), batch...))
	s.blocked = s.block != nil
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.got...)
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) isBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func jobEvent(id string, stage Stage) Event {
	return Event{JobID: id, Owner: "42", TS: time.Now(), Stage: stage}
}
