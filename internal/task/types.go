// Package task holds the shared group-creation domain types: tasks, addresses,
// outcomes and invite log entries.
package task

import (
	"strings"
	"time"
)

// Address is a canonical participant identifier: normalized phone digits plus
// the messaging network domain suffix (e.g. "919876543210@s.whatsapp.net").
type Address string

// User returns the digits part of the address.
func (a Address) User() string {
	s := string(a)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

func (a Address) String() string { return string(a) }

// ValidOwnerID reports whether id is usable as an owner key. Owner IDs end up
// in file names, so only letters, digits, '-', '_' and '.' are allowed.
func ValidOwnerID(id string) bool {
	if id == "" || len(id) > 64 || id == "." || id == ".." {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// Task is one group-creation request. It is immutable once enqueued.
type Task struct {
	OwnerID      string    `json:"owner_id"`
	GroupName    string    `json:"group_name"`
	Participants []Address `json:"participants"`
	InviteOnly   []Address `json:"invite_only,omitempty"` // subset of Participants
	DesiredAdmin Address   `json:"desired_admin,omitempty"`
	BatchID      string    `json:"batch_id"`
	Sequence     int       `json:"sequence"` // 1-based position in the batch
	BatchTotal   int       `json:"batch_total"`
}

// IsInviteOnly reports whether addr was flagged as invite-only.
func (t *Task) IsInviteOnly(addr Address) bool {
	for _, a := range t.InviteOnly {
		if a == addr {
			return true
		}
	}
	return false
}

// Outcome is the terminal state of a processed task.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// LogStatus is the status recorded in the invite ledger.
type LogStatus string

const (
	StatusSuccess                     LogStatus = "Success"
	StatusSuccessAdminPromotionFailed LogStatus = "Success (Admin Promotion Failed)"
	StatusSuccessAdminNotFound        LogStatus = "Success (Admin Not Found)"
	StatusSkipped                     LogStatus = "Skipped"
	StatusFailed                      LogStatus = "Failed"
)

// InviteLogEntry is one append-only ledger record per terminal task outcome.
type InviteLogEntry struct {
	ID         int64     `json:"id"`
	OwnerID    string    `json:"owner_id"`
	GroupName  string    `json:"group_name"`
	InviteLink string    `json:"invite_link"`
	Status     LogStatus `json:"status"`
	Detail     string    `json:"detail"`
	BatchID    string    `json:"batch_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Realtime event names published to owners.
const (
	EventProgress   = "progress"
	EventComplete   = "complete"
	EventLogUpdated = "log-updated"
	EventStatus     = "status"
)

// ProgressPayload is published after every processed task.
type ProgressPayload struct {
	BatchID      string  `json:"batchId"`
	Current      int     `json:"current"`
	Total        int     `json:"total"`
	SuccessCount int     `json:"successCount"`
	FailedCount  int     `json:"failedCount"`
	CurrentGroup string  `json:"currentGroup"`
	Outcome      Outcome `json:"outcome"`
}

// CompletePayload is published exactly once per batch.
type CompletePayload struct {
	BatchID      string `json:"batchId"`
	SuccessCount int    `json:"successCount"`
	FailedCount  int    `json:"failedCount"`
	Total        int    `json:"total"`
}
