package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/groupforge/internal/ledger"
	"github.com/KafClaw/groupforge/internal/messaging/messagingtest"
	"github.com/KafClaw/groupforge/internal/task"
)

const self task.Address = "910000000000@s.whatsapp.net"

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(owner, event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, owner+":"+event)
}

type harness struct {
	orch   *Orchestrator
	ledger *ledger.Service
	client *messagingtest.FakeClient
	pub    *recordingPublisher
	sleeps []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	h := &harness{ledger: svc, client: messagingtest.NewFakeClient(self), pub: &recordingPublisher{}}
	h.orch = New(DefaultConfig(), svc, svc, h.pub)
	h.orch.jitter = func(lo, _ time.Duration) time.Duration { return lo }
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) lastEntry(t *testing.T) task.InviteLogEntry {
	t.Helper()
	entries, err := h.ledger.ListInvites(ledger.InviteFilter{OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no ledger entries")
	}
	return entries[len(entries)-1]
}

func addr(n string) task.Address { return task.Address("91" + n + "@s.whatsapp.net") }

func TestCreateGroupIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tk := &task.Task{OwnerID: "alice", GroupName: "Villa", Participants: []task.Address{addr("9000000001")}, BatchID: "b1"}

	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeSuccess {
		t.Fatalf("first run = %s, want success", got)
	}
	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeSkipped {
		t.Fatalf("second run = %s, want skipped", got)
	}
	if h.client.CreateCalls() != 1 {
		t.Fatalf("CreateGroup called %d times, want 1", h.client.CreateCalls())
	}

	entry := h.lastEntry(t)
	if entry.Status != task.StatusSkipped || entry.Detail != "Group already exists" {
		t.Errorf("skip entry = %+v", entry)
	}
	if len(h.pub.events) != 2 || h.pub.events[0] != "alice:log-updated" {
		t.Errorf("events = %v", h.pub.events)
	}
}

func TestCreateGroupThrottlesBeforeExternalCalls(t *testing.T) {
	h := newHarness(t)
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{addr("9000000001")}}
	h.orch.CreateGroup(context.Background(), h.client, tk)
	if len(h.sleeps) == 0 || h.sleeps[0] != 10*time.Second {
		t.Fatalf("sleeps = %v, want initial 10s", h.sleeps)
	}
}

func TestCreateGroupQuorum(t *testing.T) {
	h := newHarness(t)
	h.client.Unregistered[addr("9000000001")] = true

	tk := &task.Task{OwnerID: "alice", GroupName: "Lonely", Participants: []task.Address{addr("9000000001"), self}}
	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	if h.client.CreateCalls() != 0 {
		t.Fatal("group must not be created without a second member")
	}
	entry := h.lastEntry(t)
	if entry.Status != task.StatusFailed || entry.Detail != ErrInsufficientParticipants.Error() {
		t.Errorf("entry = %+v", entry)
	}
}

func TestCreateGroupNoParticipants(t *testing.T) {
	h := newHarness(t)
	tk := &task.Task{OwnerID: "alice", GroupName: "Empty"}
	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeFailed {
		t.Fatalf("outcome = %s", got)
	}
	if h.lastEntry(t).Detail != ErrNoValidParticipants.Error() {
		t.Errorf("detail = %q", h.lastEntry(t).Detail)
	}
}

func TestAdminPromotionFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t)
	h.client.PromoteErr = errors.New("not authorized")
	admin := addr("9000000001")
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{admin, addr("9000000002")}, DesiredAdmin: admin}

	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", got)
	}
	entry := h.lastEntry(t)
	if entry.Status != task.StatusSuccessAdminPromotionFailed {
		t.Errorf("status = %s", entry.Status)
	}
	if !strings.Contains(entry.Detail, "not authorized") {
		t.Errorf("detail = %q", entry.Detail)
	}
	if entry.InviteLink == "" {
		t.Error("invite link should be recorded")
	}
	if h.sleeps[len(h.sleeps)-1] != 2*time.Second {
		t.Errorf("expected promote delay, sleeps = %v", h.sleeps)
	}
}

func TestAdminPromoted(t *testing.T) {
	h := newHarness(t)
	admin := addr("9000000001")
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{admin}, DesiredAdmin: admin}
	h.orch.CreateGroup(context.Background(), h.client, tk)

	groups := h.client.Groups()
	if len(groups) != 1 || len(groups[0].Admins) != 1 || groups[0].Admins[0] != admin {
		t.Fatalf("groups = %+v", groups)
	}
	if h.lastEntry(t).Status != task.StatusSuccess {
		t.Errorf("status = %s", h.lastEntry(t).Status)
	}
}

func TestAdminNotFound(t *testing.T) {
	h := newHarness(t)
	admin := addr("9000000009")
	h.client.Unregistered[admin] = true
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{addr("9000000001"), admin}, DesiredAdmin: admin}

	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeSuccess {
		t.Fatalf("outcome = %s", got)
	}
	if h.lastEntry(t).Status != task.StatusSuccessAdminNotFound {
		t.Errorf("status = %s", h.lastEntry(t).Status)
	}
}

func TestInviteOnlyBorrowAndDelivery(t *testing.T) {
	h := newHarness(t)
	a, b, c := addr("9000000001"), addr("9000000002"), addr("9000000003")
	h.client.SendErr[c] = errors.New("blocked")
	tk := &task.Task{OwnerID: "alice", GroupName: "Guests", Participants: []task.Address{a, b, c}, InviteOnly: []task.Address{a, b, c}}

	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeSuccess {
		t.Fatalf("outcome = %s", got)
	}

	groups := h.client.Groups()
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	members := groups[0].Members
	if len(members) != 2 || members[0] != self || members[1] != a {
		t.Errorf("members = %v, want owner plus borrowed first invitee", members)
	}

	msgs := h.client.Messages()
	if len(msgs) != 1 || msgs[0].To != b {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Text, "Guests") || !strings.Contains(msgs[0].Text, "https://chat.whatsapp.com/") {
		t.Errorf("invite text = %q", msgs[0].Text)
	}

	entry := h.lastEntry(t)
	if entry.Status != task.StatusSuccess || !strings.Contains(entry.Detail, "blocked") {
		t.Errorf("entry = %+v", entry)
	}
	// initial throttle + one interval between the two sends
	if len(h.sleeps) != 2 || h.sleeps[1] != time.Second {
		t.Errorf("sleeps = %v", h.sleeps)
	}
}

func TestExternalFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.client.CreateErr = errors.New("rate limited")
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{addr("9000000001")}}

	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeFailed {
		t.Fatalf("outcome = %s", got)
	}
	entry := h.lastEntry(t)
	if !strings.Contains(entry.Detail, "create group") || !strings.Contains(entry.Detail, "rate limited") {
		t.Errorf("detail = %q", entry.Detail)
	}
	if _, ok, _ := h.ledger.LookupGroup("alice", "G"); ok {
		t.Error("failed creation must not be recorded in dedup store")
	}
}

func TestInviteLinkFailureStillDeduplicates(t *testing.T) {
	h := newHarness(t)
	h.client.InviteErr = errors.New("timeout")
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{addr("9000000001")}}

	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeFailed {
		t.Fatalf("outcome = %s", got)
	}
	if _, ok, _ := h.ledger.LookupGroup("alice", "G"); !ok {
		t.Fatal("created group must be recorded even when the link fetch fails")
	}
	h.client.InviteErr = nil
	if got := h.orch.CreateGroup(context.Background(), h.client, tk); got != task.OutcomeSkipped {
		t.Fatalf("rerun = %s, want skipped", got)
	}
}

func TestCancelledDuringThrottle(t *testing.T) {
	h := newHarness(t)
	h.orch.sleep = sleepContext
	h.orch.cfg.MinDelay, h.orch.cfg.MaxDelay = time.Hour, time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tk := &task.Task{OwnerID: "alice", GroupName: "G", Participants: []task.Address{addr("9000000001")}}
	if got := h.orch.CreateGroup(ctx, h.client, tk); got != task.OutcomeFailed {
		t.Fatalf("outcome = %s", got)
	}
	if h.client.CreateCalls() != 0 {
		t.Fatal("no external call expected after cancellation")
	}
}

func TestRandomDelayBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomDelay(10*time.Second, 20*time.Second)
		if d < 10*time.Second || d > 20*time.Second {
			t.Fatalf("delay %v out of range", d)
		}
	}
	if randomDelay(time.Second, time.Second) != time.Second {
		t.Fatal("equal bounds should return the bound")
	}
}
