// Package orchestrator runs one group-creation task end to end: dedup check,
// throttling, participant validation, creation, invite delivery, admin
// promotion and ledger bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/KafClaw/groupforge/internal/bus"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/task"
)

// DefaultInviteMessage is used when no template is configured. {group} and
// {link} are substituted.
const DefaultInviteMessage = "Hi! You have been invited to join the group \"{group}\".\n\n" +
	"Please join using this link: {link}\n\n" +
	"Just reply with \"Yes\" in case the link is not clickable."

// Config holds throttling and messaging settings.
type Config struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	InviteInterval time.Duration
	PromoteDelay   time.Duration
	InviteMessage  string
}

// DefaultConfig returns the production throttle settings.
func DefaultConfig() Config {
	return Config{
		MinDelay:       10 * time.Second,
		MaxDelay:       20 * time.Second,
		InviteInterval: time.Second,
		PromoteDelay:   2 * time.Second,
		InviteMessage:  DefaultInviteMessage,
	}
}

// DedupStore remembers which groups an owner already created.
type DedupStore interface {
	LookupGroup(ownerID, groupName string) (string, bool, error)
	RecordGroup(ownerID, groupName, groupID, batchID string) error
}

// Ledger appends invite log entries.
type Ledger interface {
	AppendInvite(entry *task.InviteLogEntry) error
}

// Orchestrator executes tasks. It holds no per-task state and may be shared
// by all owner drain loops.
type Orchestrator struct {
	cfg    Config
	dedup  DedupStore
	ledger Ledger
	pub    bus.Publisher

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

// New creates an Orchestrator. An empty invite message falls back to
// DefaultInviteMessage; pub may be nil.
func New(cfg Config, dedup DedupStore, ledger Ledger, pub bus.Publisher) *Orchestrator {
	def := DefaultConfig()
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.InviteMessage == "" {
		cfg.InviteMessage = def.InviteMessage
	}
	return &Orchestrator{
		cfg:    cfg,
		dedup:  dedup,
		ledger: ledger,
		pub:    pub,
		sleep:  sleepContext,
		jitter: randomDelay,
	}
}

type result struct {
	groupID string
	link    string
	status  task.LogStatus
	notes   []string
}

// CreateGroup processes t with client and returns its terminal outcome.
// Errors never escape: every outcome is recorded in the ledger.
func (o *Orchestrator) CreateGroup(ctx context.Context, client messaging.Client, t *task.Task) task.Outcome {
	log := slog.With("owner", t.OwnerID, "group", t.GroupName, "batch", t.BatchID)

	if id, ok, err := o.dedup.LookupGroup(t.OwnerID, t.GroupName); err != nil {
		log.Error("Dedup lookup failed", "error", err)
		o.record(t, "", task.StatusFailed, fmt.Sprintf("dedup lookup: %v", err))
		return task.OutcomeFailed
	} else if ok {
		log.Info("Group already created, skipping", "group_id", id)
		o.record(t, "", task.StatusSkipped, "Group already exists")
		return task.OutcomeSkipped
	}

	res, err := o.run(ctx, client, t, log)
	if err != nil {
		log.Error("Group creation failed", "error", err)
		o.record(t, "", task.StatusFailed, err.Error())
		return task.OutcomeFailed
	}

	log.Info("Group created", "group_id", res.groupID, "status", res.status)
	o.record(t, res.link, res.status, strings.Join(res.notes, "; "))
	return task.OutcomeSuccess
}

func (o *Orchestrator) run(ctx context.Context, client messaging.Client, t *task.Task, log *slog.Logger) (*result, error) {
	wait := o.jitter(o.cfg.MinDelay, o.cfg.MaxDelay)
	log.Info("Waiting before group creation", "delay", wait)
	if err := o.sleep(ctx, wait); err != nil {
		return nil, err
	}

	if len(t.Participants) == 0 {
		return nil, ErrNoValidParticipants
	}
	self := client.Self()
	if self == "" {
		return nil, &ExternalClientError{Op: "identity", Err: messaging.ErrNotReady}
	}

	presence, err := client.ValidateAddresses(ctx, t.Participants)
	if err != nil {
		return nil, &ExternalClientError{Op: "validate", Err: err}
	}

	directAdd := []task.Address{self}
	var inviteOnly []task.Address
	for _, p := range presence {
		if !p.Exists {
			log.Warn("Participant not on WhatsApp, skipping", "address", p.Address)
			continue
		}
		if p.Address.User() == self.User() {
			continue
		}
		if t.IsInviteOnly(p.Address) {
			inviteOnly = append(inviteOnly, p.Address)
		} else {
			directAdd = append(directAdd, p.Address)
		}
	}
	if len(directAdd)+len(inviteOnly) < 2 {
		return nil, ErrInsufficientParticipants
	}
	confirmed := make(map[task.Address]bool, len(directAdd)+len(inviteOnly))
	for _, a := range directAdd {
		confirmed[a] = true
	}
	for _, a := range inviteOnly {
		confirmed[a] = true
	}

	// A group needs one member besides the owner; borrow an invite-only one.
	if len(directAdd) < 2 && len(inviteOnly) > 0 {
		log.Info("Borrowing invite-only participant for direct add", "address", inviteOnly[0])
		directAdd = append(directAdd, inviteOnly[0])
		inviteOnly = inviteOnly[1:]
	}

	log.Info("Creating group", "direct", len(directAdd), "invite_only", len(inviteOnly))
	groupID, err := client.CreateGroup(ctx, t.GroupName, directAdd)
	if err != nil {
		return nil, &ExternalClientError{Op: "create group", Err: err}
	}
	res := &result{groupID: groupID, status: task.StatusSuccess}

	if err := o.dedup.RecordGroup(t.OwnerID, t.GroupName, groupID, t.BatchID); err != nil {
		log.Error("Failed to record created group", "group_id", groupID, "error", err)
		res.notes = append(res.notes, fmt.Sprintf("dedup record: %v", err))
	}

	link, err := client.InviteLink(ctx, groupID)
	if err != nil {
		return nil, &ExternalClientError{Op: "invite link", Err: err}
	}
	res.link = link

	if len(inviteOnly) > 0 {
		text := o.inviteText(t.GroupName, link)
		for i, addr := range inviteOnly {
			if i > 0 {
				if err := o.sleep(ctx, o.cfg.InviteInterval); err != nil {
					return nil, err
				}
			}
			if err := client.SendText(ctx, addr, text); err != nil {
				ierr := &InviteDeliveryError{To: addr, Err: err}
				log.Warn("Invite delivery failed", "error", ierr)
				res.notes = append(res.notes, ierr.Error())
				continue
			}
			log.Info("Invite link sent", "address", addr)
		}
	}

	if admin := t.DesiredAdmin; admin != "" {
		if !confirmed[admin] {
			log.Warn("Desired admin is not a participant", "admin", admin)
			res.status = task.StatusSuccessAdminNotFound
			return res, nil
		}
		if err := o.sleep(ctx, o.cfg.PromoteDelay); err != nil {
			return nil, err
		}
		if err := client.Promote(ctx, groupID, admin); err != nil {
			perr := &AdminPromotionError{Admin: admin, Err: err}
			log.Warn("Admin promotion failed", "error", perr)
			res.status = task.StatusSuccessAdminPromotionFailed
			res.notes = append([]string{perr.Error()}, res.notes...)
		} else {
			log.Info("Admin promoted", "admin", admin)
		}
	}
	return res, nil
}

func (o *Orchestrator) inviteText(group, link string) string {
	return strings.NewReplacer("{group}", group, "{link}", link).Replace(o.cfg.InviteMessage)
}

// record appends the ledger entry and tells the owner the log changed.
func (o *Orchestrator) record(t *task.Task, link string, status task.LogStatus, detail string) {
	entry := &task.InviteLogEntry{
		OwnerID:    t.OwnerID,
		GroupName:  t.GroupName,
		InviteLink: link,
		Status:     status,
		Detail:     detail,
		BatchID:    t.BatchID,
	}
	if err := o.ledger.AppendInvite(entry); err != nil {
		slog.Error("Failed to append invite log", "owner", t.OwnerID, "group", t.GroupName, "error", err)
		return
	}
	if o.pub != nil {
		o.pub.Publish(t.OwnerID, task.EventLogUpdated, entry)
	}
}

func randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
