package orchestrator

import (
	"errors"
	"fmt"

	"github.com/KafClaw/groupforge/internal/task"
)

var (
	// ErrNoValidParticipants means the task carried no participants at all.
	ErrNoValidParticipants = errors.New("no valid participants provided")
	// ErrInsufficientParticipants means validation left nobody besides the
	// owner's own identity.
	ErrInsufficientParticipants = errors.New("not enough registered participants to create a group")
)

// ExternalClientError wraps a fatal messaging client failure.
type ExternalClientError struct {
	Op  string
	Err error
}

func (e *ExternalClientError) Error() string {
	return fmt.Sprintf("whatsapp %s: %v", e.Op, e.Err)
}

func (e *ExternalClientError) Unwrap() error { return e.Err }

// AdminPromotionError is non-fatal: the group exists but the admin was not
// promoted.
type AdminPromotionError struct {
	Admin task.Address
	Err   error
}

func (e *AdminPromotionError) Error() string {
	return fmt.Sprintf("promote %s: %v", e.Admin.User(), e.Err)
}

func (e *AdminPromotionError) Unwrap() error { return e.Err }

// InviteDeliveryError is non-fatal: one invite-only participant did not get
// the link.
type InviteDeliveryError struct {
	To  task.Address
	Err error
}

func (e *InviteDeliveryError) Error() string {
	return fmt.Sprintf("invite to %s: %v", e.To.User(), e.Err)
}

func (e *InviteDeliveryError) Unwrap() error { return e.Err }
