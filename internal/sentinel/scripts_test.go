package sentinel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*ScriptScheduler, clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(devNull{})
	return NewScriptScheduler(fc, log), fc
}

func TestScriptScheduler_EnqueueCapsAtQueueLimit(t *testing.T) {
	s, _ := newTestScheduler(t)
	for i := 0; i < ScriptQueueCap+5; i++ {
		s.Enqueue(ScriptJob{Path: "/bin/true"})
	}
	assert.Equal(t, ScriptQueueCap, s.Pending())
}

func TestScriptScheduler_EnqueueDropsOldestNotNewest(t *testing.T) {
	s, _ := newTestScheduler(t)
	for i := 0; i < ScriptQueueCap; i++ {
		s.Enqueue(ScriptJob{Path: "/bin/true", ID: "old"})
	}
	s.Enqueue(ScriptJob{Path: "/bin/true", ID: "newest"})

	require.Len(t, s.queue, ScriptQueueCap)
	assert.Equal(t, "newest", s.queue[len(s.queue)-1].ID, "the incoming job is kept")
}

func TestScriptScheduler_EnqueueAssignsID(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Enqueue(ScriptJob{Path: "/bin/true"})
	require.Len(t, s.queue, 1)
	assert.NotEmpty(t, s.queue[0].ID)
}

func TestScriptScheduler_DispatchRunsReadyJobAndClearsQueue(t *testing.T) {
	s, _ := newTestScheduler(t)
	ran := make(chan struct{}, 1)
	s.runner = func(ctx context.Context, path string, args []string) error {
		ran <- struct{}{}
		return nil
	}
	s.Enqueue(ScriptJob{Path: "/bin/true", Kind: ScriptKindNotification})

	s.Dispatch()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	waitForPending(t, s, 0)
}

func TestScriptScheduler_RetriesOnFailureWithBackoff(t *testing.T) {
	s, fc := newTestScheduler(t)
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{}, 10)
	s.runner = func(ctx context.Context, path string, args []string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- struct{}{}
		return errors.New("boom")
	}
	s.Enqueue(ScriptJob{Path: "/bin/false"})

	s.Dispatch()
	<-done
	waitForPending(t, s, 1)

	// not yet due: backoff hasn't elapsed
	s.Dispatch()
	mu.Lock()
	firstCalls := calls
	mu.Unlock()
	assert.Equal(t, 1, firstCalls)

	fc.Advance(ScriptRetryBase + time.Second)
	s.Dispatch()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestScriptScheduler_GivesUpAfterMaxRetries(t *testing.T) {
	s, fc := newTestScheduler(t)
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{}, ScriptMaxRetries+1)
	s.runner = func(ctx context.Context, path string, args []string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- struct{}{}
		return errors.New("boom")
	}
	s.Enqueue(ScriptJob{Path: "/bin/false"})

	for i := 0; i < ScriptMaxRetries; i++ {
		s.Dispatch()
		<-done
		if i < ScriptMaxRetries-1 {
			waitForPending(t, s, 1) // requeued with its backoff set before we advance the clock past it
			fc.Advance(ScriptRetryBase * (1 << uint(i+2)))
		} else {
			waitForPending(t, s, 0) // exhausted: dropped instead of requeued
		}
	}

	assert.Equal(t, 0, s.Pending(), "job dropped after exhausting retries")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ScriptMaxRetries, calls)
}

func TestScriptScheduler_ConcurrencyCapDefersExcessJobs(t *testing.T) {
	s, _ := newTestScheduler(t)
	block := make(chan struct{})
	started := make(chan struct{}, ScriptConcurrencyCap+1)
	s.runner = func(ctx context.Context, path string, args []string) error {
		started <- struct{}{}
		<-block
		return nil
	}
	for i := 0; i < ScriptConcurrencyCap+1; i++ {
		s.Enqueue(ScriptJob{Path: "/bin/true"})
	}

	s.Dispatch()
	for i := 0; i < ScriptConcurrencyCap; i++ {
		<-started
	}
	assert.Equal(t, 1, s.Pending(), "one job deferred past the concurrency cap")

	close(block)
}

func waitForPending(t *testing.T, s *ScriptScheduler, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Pending() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("pending count never reached %d, got %d", want, s.Pending())
}
