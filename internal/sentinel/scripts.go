package sentinel

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ScriptKind distinguishes the two script hooks of §4.11/§6.
type ScriptKind int

const (
	ScriptKindNotification ScriptKind = iota
	ScriptKindClientReconf
)

func (k ScriptKind) String() string {
	if k == ScriptKindClientReconf {
		return "client-reconfig"
	}
	return "notification"
}

// ScriptJob is one queued invocation of a notification or
// client-reconfiguration script (§4.11).
type ScriptJob struct {
	ID   string
	Path string
	Args []string
	Kind ScriptKind

	attempts    int
	nextAttempt time.Time
}

// ScriptScheduler is the bounded, retrying script runner of §4.11: a FIFO
// queue capped at ScriptQueueCap, at most ScriptConcurrencyCap scripts
// forked concurrently, each killed after ScriptMaxRuntime and retried
// with exponential backoff until it has run ScriptMaxRetries times in all.
type ScriptScheduler struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	log    *logrus.Entry
	queue  []*ScriptJob
	active int
	runner func(ctx context.Context, path string, args []string) error
}

// NewScriptScheduler constructs an idle scheduler; Dispatch must be
// called periodically (the tick dispatcher does this, §4.13) to actually
// fork queued jobs.
func NewScriptScheduler(clock clockwork.Clock, log *logrus.Entry) *ScriptScheduler {
	return &ScriptScheduler{
		clock: clock,
		log:   log,
		runner: func(ctx context.Context, path string, args []string) error {
			return exec.CommandContext(ctx, path, args...).Run()
		},
	}
}

// Enqueue adds a job to the FIFO queue, assigning it a fresh ID if unset.
// Once the queue holds ScriptQueueCap jobs, the oldest queued (non-running)
// job is dropped to make room for the new one, logging a warning — jobs
// already forked by Dispatch have left s.queue, so everything here is
// still waiting its turn (§4.11).
func (s *ScriptScheduler) Enqueue(job ScriptJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= ScriptQueueCap {
		dropped := s.queue[0]
		s.log.WithField("path", dropped.Path).Warn("script queue full, dropping oldest queued job")
		s.queue = s.queue[1:]
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	j := job
	s.queue = append(s.queue, &j)
}

// Pending reports the current queue depth, for the administrative
// PENDING-SCRIPTS introspection surface.
func (s *ScriptScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dispatch forks as many ready, due jobs as the concurrency cap allows.
// A job is "ready" once its nextAttempt has elapsed; it is removed from
// the queue and re-enqueued at the tail with a doubled backoff if it
// fails, exits nonzero, or overruns ScriptMaxRuntime, up to
// ScriptMaxRetries attempts.
func (s *ScriptScheduler) Dispatch() {
	s.mu.Lock()
	now := s.clock.Now()
	var ready []*ScriptJob
	var notYet []*ScriptJob
	for _, j := range s.queue {
		if s.active >= ScriptConcurrencyCap {
			notYet = append(notYet, j)
			continue
		}
		if !j.nextAttempt.IsZero() && now.Before(j.nextAttempt) {
			notYet = append(notYet, j)
			continue
		}
		ready = append(ready, j)
		s.active++
	}
	s.queue = notYet
	s.mu.Unlock()

	for _, j := range ready {
		go s.run(j)
	}
}

func (s *ScriptScheduler) run(j *ScriptJob) {
	ctx, cancel := context.WithTimeout(context.Background(), ScriptMaxRuntime)
	defer cancel()

	err := s.runner(ctx, j.Path, j.Args)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--

	log := s.log.WithFields(logrus.Fields{"script": j.Path, "kind": j.Kind.String(), "attempt": j.attempts + 1})
	if err == nil {
		log.Info("script finished")
		return
	}

	j.attempts++
	if j.attempts >= ScriptMaxRetries {
		log.WithError(err).Error("script failed, giving up after max retries")
		return
	}
	backoff := ScriptRetryBase * time.Duration(1<<uint(j.attempts-1))
	j.nextAttempt = s.clock.Now().Add(backoff)
	log.WithError(err).Warn("script failed, scheduling retry")
	s.queue = append(s.queue, j)
}
