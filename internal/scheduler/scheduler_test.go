package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/groupforge/internal/ledger"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/messaging/messagingtest"
	"github.com/KafClaw/groupforge/internal/orchestrator"
	"github.com/KafClaw/groupforge/internal/task"
)

type fakeRunner struct {
	mu       sync.Mutex
	order    []string
	outcomes map[string]task.Outcome
	gate     chan struct{} // when set, each task waits for a value

	active    map[string]int
	maxActive map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outcomes: map[string]task.Outcome{}, active: map[string]int{}, maxActive: map[string]int{}}
}

func (r *fakeRunner) CreateGroup(_ context.Context, _ messaging.Client, t *task.Task) task.Outcome {
	r.mu.Lock()
	r.active[t.OwnerID]++
	if r.active[t.OwnerID] > r.maxActive[t.OwnerID] {
		r.maxActive[t.OwnerID] = r.active[t.OwnerID]
	}
	r.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[t.OwnerID]--
	r.order = append(r.order, t.OwnerID+"/"+t.GroupName)
	if o, ok := r.outcomes[t.GroupName]; ok {
		return o
	}
	return task.OutcomeSuccess
}

func (r *fakeRunner) processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type published struct {
	owner string
	name  string
	data  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	done   chan task.CompletePayload
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{done: make(chan task.CompletePayload, 16)}
}

func (p *recordingPublisher) Publish(owner, event string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, published{owner, event, payload})
	p.mu.Unlock()
	if c, ok := payload.(task.CompletePayload); ok {
		p.done <- c
	}
}

func (p *recordingPublisher) count(owner, event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.owner == owner && e.name == event {
			n++
		}
	}
	return n
}

func batch(owner, id string, groups ...string) []*task.Task {
	out := make([]*task.Task, len(groups))
	for i, g := range groups {
		out[i] = &task.Task{OwnerID: owner, GroupName: g, BatchID: id, Sequence: i + 1, BatchTotal: len(groups)}
	}
	return out
}

func readyRegistry(owners ...string) *messaging.Registry {
	reg := messaging.NewRegistry()
	for _, o := range owners {
		reg.Register(o, messagingtest.NewFakeClient("910000000000@s.whatsapp.net"))
		reg.SetReady(o, true)
	}
	return reg
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	})
}

func waitComplete(t *testing.T, p *recordingPublisher) task.CompletePayload {
	t.Helper()
	select {
	case c := <-p.done:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	return task.CompletePayload{}
}

func TestThreeTaskBatchCompletesOnce(t *testing.T) {
	runner := newFakeRunner()
	runner.outcomes["B"] = task.OutcomeFailed
	runner.outcomes["C"] = task.OutcomeSkipped
	pub := newRecordingPublisher()
	s := New(runner, readyRegistry("alice"), pub)
	startScheduler(t, s)

	s.Enqueue(batch("alice", "b1", "A", "B", "C")...)

	got := waitComplete(t, pub)
	if got.BatchID != "b1" || got.Total != 3 || got.SuccessCount != 1 || got.FailedCount != 2 {
		t.Fatalf("completion = %+v", got)
	}
	if got.SuccessCount+got.FailedCount != got.Total {
		t.Fatal("success + failed must equal total")
	}

	order := runner.processed()
	want := []string{"alice/A", "alice/B", "alice/C"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want FIFO %v", order, want)
		}
	}

	if n := pub.count("alice", task.EventProgress); n != 3 {
		t.Errorf("progress events = %d, want 3", n)
	}
	if n := pub.count("alice", task.EventComplete); n != 1 {
		t.Errorf("complete events = %d, want 1", n)
	}
	if st := s.Status("alice"); len(st.Batches) != 0 || st.Pending != 0 {
		t.Errorf("tracker not discarded: %+v", st)
	}
}

func TestProgressCarriesRunningCounts(t *testing.T) {
	runner := newFakeRunner()
	runner.outcomes["B"] = task.OutcomeFailed
	pub := newRecordingPublisher()
	s := New(runner, readyRegistry("alice"), pub)
	startScheduler(t, s)

	s.Enqueue(batch("alice", "b1", "A", "B")...)
	waitComplete(t, pub)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var progress []task.ProgressPayload
	for _, e := range pub.events {
		if p, ok := e.data.(task.ProgressPayload); ok {
			progress = append(progress, p)
		}
	}
	if len(progress) != 2 {
		t.Fatalf("progress = %+v", progress)
	}
	if progress[0].Current != 1 || progress[0].SuccessCount != 1 || progress[0].CurrentGroup != "A" {
		t.Errorf("first progress = %+v", progress[0])
	}
	if progress[1].Current != 2 || progress[1].FailedCount != 1 || progress[1].Outcome != task.OutcomeFailed {
		t.Errorf("second progress = %+v", progress[1])
	}
}

func TestDrainWaitsForReadiness(t *testing.T) {
	runner := newFakeRunner()
	pub := newRecordingPublisher()
	reg := messaging.NewRegistry()
	s := New(runner, reg, pub)
	reg.OnReady(s.Notify)
	startScheduler(t, s)

	s.Enqueue(batch("alice", "b1", "A")...)
	time.Sleep(50 * time.Millisecond)
	if len(runner.processed()) != 0 {
		t.Fatal("tasks must not run before the session is ready")
	}
	if s.Status("alice").Pending != 1 {
		t.Fatalf("pending = %d", s.Status("alice").Pending)
	}

	reg.Register("alice", messagingtest.NewFakeClient("910000000000@s.whatsapp.net"))
	reg.SetReady("alice", true)

	got := waitComplete(t, pub)
	if got.SuccessCount != 1 {
		t.Fatalf("completion = %+v", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDrainStopsOnSessionLossAndResumes(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	pub := newRecordingPublisher()
	reg := readyRegistry("alice")
	s := New(runner, reg, pub)
	reg.OnReady(s.Notify)
	startScheduler(t, s)

	s.Enqueue(batch("alice", "b1", "A", "B", "C")...)
	waitFor(t, "task A in flight", func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.active["alice"] == 1
	})

	reg.SetReady("alice", false)
	runner.gate <- struct{}{}

	waitFor(t, "drain to stop", func() bool { return !s.Status("alice").Draining })
	st := s.Status("alice")
	if st.Pending != 2 {
		t.Fatalf("pending = %d, want B and C left", st.Pending)
	}
	if got := runner.processed(); len(got) != 1 || got[0] != "alice/A" {
		t.Fatalf("processed = %v, want only A", got)
	}
	if len(st.Batches) != 1 || st.Batches[0].Processed != 1 {
		t.Fatalf("batches = %+v", st.Batches)
	}
	if n := pub.count("alice", task.EventComplete); n != 0 {
		t.Fatalf("complete events = %d before resume", n)
	}

	reg.SetReady("alice", true)
	runner.gate <- struct{}{}
	runner.gate <- struct{}{}

	got := waitComplete(t, pub)
	if got.Total != 3 || got.SuccessCount != 3 || got.FailedCount != 0 {
		t.Fatalf("completion = %+v", got)
	}
	if n := pub.count("alice", task.EventComplete); n != 1 {
		t.Errorf("complete events = %d, want 1", n)
	}
	order := runner.processed()
	want := []string{"alice/A", "alice/B", "alice/C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBatchThroughOrchestratorAndLedger(t *testing.T) {
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	if err := led.RecordGroup("alice", "Dup", "120363000@g.us", "earlier"); err != nil {
		t.Fatal(err)
	}

	pub := newRecordingPublisher()
	orch := orchestrator.New(orchestrator.Config{}, led, led, pub)
	reg := readyRegistry("alice")
	client, err := reg.Client("alice")
	if err != nil {
		t.Fatal(err)
	}
	fake := client.(*messagingtest.FakeClient)
	s := New(orch, reg, pub)
	startScheduler(t, s)

	tasks := batch("alice", "b1", "Dup", "Ok", "Empty")
	tasks[0].Participants = []task.Address{"919000000001@s.whatsapp.net"}
	tasks[1].Participants = []task.Address{"919000000002@s.whatsapp.net"}
	s.Enqueue(tasks...)

	got := waitComplete(t, pub)
	if got.BatchID != "b1" || got.Total != 3 || got.SuccessCount != 1 || got.FailedCount != 2 {
		t.Fatalf("completion = %+v", got)
	}
	if n := pub.count("alice", task.EventComplete); n != 1 {
		t.Errorf("complete events = %d, want 1", n)
	}
	if fake.CreateCalls() != 1 {
		t.Errorf("create calls = %d, want 1", fake.CreateCalls())
	}

	entries, err := led.ListInvites(ledger.InviteFilter{OwnerID: "alice", BatchID: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	status := map[string]task.LogStatus{}
	for _, e := range entries {
		status[e.GroupName] = e.Status
	}
	if status["Dup"] != task.StatusSkipped || status["Ok"] != task.StatusSuccess || status["Empty"] != task.StatusFailed {
		t.Fatalf("ledger statuses = %v", status)
	}
	if _, ok, _ := led.LookupGroup("alice", "Ok"); !ok {
		t.Error("created group should be recorded for dedup")
	}
}

func TestOneDrainPerOwnerOwnersConcurrent(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	pub := newRecordingPublisher()
	s := New(runner, readyRegistry("alice", "bob"), pub)
	startScheduler(t, s)

	s.Enqueue(batch("alice", "a1", "A1", "A2", "A3")...)
	s.Enqueue(batch("bob", "b1", "B1")...)

	// Both owners should be inside CreateGroup at the same time.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runner.mu.Lock()
		both := runner.active["alice"] == 1 && runner.active["bob"] == 1
		runner.mu.Unlock()
		if both {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !s.Status("alice").Draining {
		t.Error("alice should be draining")
	}

	// Extra signals while draining must not start a second loop.
	s.Notify("alice")
	s.Enqueue(batch("alice", "a2", "A4")...)

	for i := 0; i < 5; i++ {
		runner.gate <- struct{}{}
	}
	for i := 0; i < 3; i++ {
		waitComplete(t, pub)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.maxActive["alice"] != 1 || runner.maxActive["bob"] != 1 {
		t.Fatalf("max concurrent per owner = %v, want 1", runner.maxActive)
	}
	if len(runner.order) != 5 {
		t.Fatalf("processed %d tasks, want 5", len(runner.order))
	}
	var aliceOrder []string
	for _, o := range runner.order {
		if o[:5] == "alice" {
			aliceOrder = append(aliceOrder, o)
		}
	}
	want := []string{"alice/A1", "alice/A2", "alice/A3", "alice/A4"}
	for i := range want {
		if aliceOrder[i] != want[i] {
			t.Fatalf("alice order = %v", aliceOrder)
		}
	}
}

func TestEnqueueBeforeRun(t *testing.T) {
	runner := newFakeRunner()
	pub := newRecordingPublisher()
	s := New(runner, readyRegistry("alice"), pub)
	s.Enqueue(batch("alice", "b1", "A")...)
	startScheduler(t, s)
	waitComplete(t, pub)
}

func TestQueueFIFO(t *testing.T) {
	var signals atomic.Int32
	q := NewQueue(func(string) { signals.Add(1) })
	q.Enqueue(batch("alice", "b", "1", "2")...)
	q.Enqueue(batch("bob", "c", "x")...)

	if signals.Load() != 2 {
		t.Errorf("signals = %d, want one per owner per enqueue", signals.Load())
	}
	if q.Len("alice") != 2 {
		t.Fatalf("Len = %d", q.Len("alice"))
	}
	first, _ := q.Next("alice")
	second, _ := q.Next("alice")
	if first.GroupName != "1" || second.GroupName != "2" {
		t.Fatalf("order = %s, %s", first.GroupName, second.GroupName)
	}
	if _, ok := q.Next("alice"); ok {
		t.Fatal("queue should be empty")
	}
	if owners := q.Owners(); len(owners) != 1 || owners[0] != "bob" {
		t.Errorf("owners = %v", owners)
	}
}

func TestTrackerRecord(t *testing.T) {
	tr := newTracker(&task.Task{BatchID: "b", BatchTotal: 2})
	if tr.Record(task.OutcomeSuccess) {
		t.Fatal("not complete after 1 of 2")
	}
	if !tr.Record(task.OutcomeSkipped) {
		t.Fatal("complete after 2 of 2")
	}
	if tr.SuccessCount != 1 || tr.FailedCount != 1 || tr.Processed != 2 {
		t.Fatalf("tracker = %+v", tr)
	}
	tr.Record(task.OutcomeSuccess)
	if tr.Processed != 2 {
		t.Fatal("processed must never exceed total")
	}
}

func TestFileLockPreventsOverlap(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "groupforge.lock")
	l1 := NewFileLock(lockPath)
	l2 := NewFileLock(lockPath)

	if err := l1.Acquire(); err != nil {
		t.Fatalf("l1 should acquire: %v", err)
	}
	err := l2.Acquire()
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("l2 Acquire = %v, want ErrLocked", err)
	}
	if l2.HolderPID() <= 0 {
		t.Error("holder pid should be recorded")
	}

	if err := l1.Unlock(); err != nil {
		t.Fatal(err)
	}
	ok, err := l2.TryLock()
	if err != nil || !ok {
		t.Fatalf("l2 should acquire after release: %v %v", ok, err)
	}
	l2.Unlock()
}

func TestSemaphoreSingleSlot(t *testing.T) {
	sem := NewSemaphore(0)
	if sem.Held() || !sem.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if sem.TryAcquire() {
		t.Fatal("capacity 0 should mean a single slot")
	}
	if !sem.Held() {
		t.Fatal("slot should be held")
	}
	sem.Release()
	if sem.Held() || !sem.TryAcquire() {
		t.Error("slot should be free after release")
	}
}
