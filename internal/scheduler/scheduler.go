// Package scheduler drains each owner's task queue through the orchestrator,
// one task at a time per owner, and reports batch progress.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/KafClaw/groupforge/internal/bus"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/task"
)

// Runner executes one task. *orchestrator.Orchestrator implements it.
type Runner interface {
	CreateGroup(ctx context.Context, client messaging.Client, t *task.Task) task.Outcome
}

// Sessions resolves an owner's ready client. *messaging.Registry implements
// it.
type Sessions interface {
	Client(owner string) (messaging.Client, error)
}

// Scheduler runs at most one drain loop per owner. Loops for different
// owners run concurrently.
type Scheduler struct {
	queue    *Queue
	runner   Runner
	sessions Sessions
	pub      bus.Publisher

	mu       sync.Mutex
	slots    map[string]*Semaphore
	trackers map[string]*Tracker
	pending  map[string]struct{}

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scheduler with its own queue. pub may be nil.
func New(runner Runner, sessions Sessions, pub bus.Publisher) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		sessions: sessions,
		pub:      pub,
		slots:    make(map[string]*Semaphore),
		trackers: make(map[string]*Tracker),
		pending:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	s.queue = NewQueue(s.Notify)
	return s
}

// Enqueue adds tasks to their owners' queues.
func (s *Scheduler) Enqueue(tasks ...*task.Task) {
	s.queue.Enqueue(tasks...)
}

// Notify marks owner as having work (or a newly ready session). Signals
// coalesce until the supervisor picks them up.
func (s *Scheduler) Notify(owner string) {
	s.mu.Lock()
	s.pending[owner] = struct{}{}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the supervisor loop. It starts drains for signalled owners until ctx
// is cancelled, then waits for running drains to finish their current task.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started")
	// Owners with work queued before Run.
	for _, o := range s.queue.Owners() {
		s.Notify(o)
	}
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-s.wake:
			s.mu.Lock()
			owners := make([]string, 0, len(s.pending))
			for o := range s.pending {
				owners = append(owners, o)
			}
			clear(s.pending)
			s.mu.Unlock()

			sort.Strings(owners)
			for _, o := range owners {
				s.kick(ctx, o)
			}
		}
	}
}

func (s *Scheduler) slot(owner string) *Semaphore {
	sem, ok := s.slots[owner]
	if !ok {
		sem = NewSemaphore(1)
		s.slots[owner] = sem
	}
	return sem
}

// kick starts a drain for owner unless one is running, the session is not
// ready, or nothing is queued.
func (s *Scheduler) kick(ctx context.Context, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.queue.Len(owner) == 0 {
		return
	}
	if _, err := s.sessions.Client(owner); err != nil {
		slog.Debug("Scheduler drain deferred: session not ready", "owner", owner)
		return
	}
	if !s.slot(owner).TryAcquire() {
		return
	}
	s.wg.Add(1)
	go s.drain(ctx, owner)
}

func (s *Scheduler) drain(ctx context.Context, owner string) {
	defer s.wg.Done()
	slog.Info("Scheduler drain started", "owner", owner)

	// In-flight tasks are not cancelled; shutdown stops the loop between tasks.
	runCtx := context.WithoutCancel(ctx)
	processed := 0
	for {
		t, client, ok := s.next(ctx, owner)
		if !ok {
			slog.Info("Scheduler drain finished", "owner", owner, "processed", processed)
			return
		}
		outcome := s.runner.CreateGroup(runCtx, client, t)
		s.complete(t, outcome)
		processed++
	}
}

// next pops the owner's oldest task. When the loop must end it releases the
// owner's slot under the same lock Notify-driven kicks use, so a task
// enqueued concurrently is never stranded.
func (s *Scheduler) next(ctx context.Context, owner string) (*task.Task, messaging.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := func() (*task.Task, messaging.Client, bool) {
		s.slot(owner).Release()
		return nil, nil, false
	}
	if ctx.Err() != nil {
		return stop()
	}
	client, err := s.sessions.Client(owner)
	if err != nil {
		slog.Warn("Scheduler drain paused: session not ready", "owner", owner, "pending", s.queue.Len(owner))
		return stop()
	}
	t, ok := s.queue.Next(owner)
	if !ok {
		return stop()
	}
	return t, client, true
}

// complete folds an outcome into the batch tracker and publishes progress,
// plus completion exactly once when the batch is fully processed.
func (s *Scheduler) complete(t *task.Task, outcome task.Outcome) {
	s.mu.Lock()
	tr, ok := s.trackers[t.BatchID]
	if !ok {
		tr = newTracker(t)
		s.trackers[t.BatchID] = tr
	}
	done := tr.Record(outcome)
	progress := tr.progress(t.GroupName, outcome)
	var completion task.CompletePayload
	if done {
		completion = tr.completion()
		delete(s.trackers, t.BatchID)
	}
	s.mu.Unlock()

	slog.Info("Task processed", "owner", t.OwnerID, "batch", t.BatchID, "group", t.GroupName,
		"outcome", outcome, "current", progress.Current, "total", progress.Total)
	if s.pub == nil {
		return
	}
	s.pub.Publish(t.OwnerID, task.EventProgress, progress)
	if done {
		slog.Info("Batch complete", "owner", t.OwnerID, "batch", t.BatchID,
			"success", completion.SuccessCount, "failed", completion.FailedCount)
		s.pub.Publish(t.OwnerID, task.EventComplete, completion)
	}
}

// Status is a point-in-time view of one owner's scheduling state.
type Status struct {
	Pending  int       `json:"pending"`
	Draining bool      `json:"draining"`
	Batches  []Tracker `json:"batches"`
}

// Status reports pending work, drain state and open batches for owner.
func (s *Scheduler) Status(owner string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Pending: s.queue.Len(owner), Batches: []Tracker{}}
	if sem, ok := s.slots[owner]; ok {
		st.Draining = sem.Held()
	}
	for _, tr := range s.trackers {
		if tr.OwnerID == owner {
			st.Batches = append(st.Batches, *tr)
		}
	}
	sort.Slice(st.Batches, func(i, j int) bool { return st.Batches[i].BatchID < st.Batches[j].BatchID })
	return st
}
