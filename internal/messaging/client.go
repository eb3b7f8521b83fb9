// Package messaging defines the per-owner messaging client contract, the
// session registry that tracks readiness, and the WhatsApp binding.
package messaging

import (
	"context"
	"errors"

	"github.com/KafClaw/groupforge/internal/task"
)

// ErrNotReady is returned when an owner has no connected session.
var ErrNotReady = errors.New("messaging session not ready")

// Presence reports whether an address is registered on the network.
type Presence struct {
	Address task.Address
	Exists  bool
}

// Client is the capability set an owner's session exposes to the
// orchestrator. Implementations must be safe for use by one drain loop.
type Client interface {
	// Self is the session's own identity.
	Self() task.Address
	ValidateAddresses(ctx context.Context, addrs []task.Address) ([]Presence, error)
	// CreateGroup creates a group with the given members and returns its
	// external ID.
	CreateGroup(ctx context.Context, name string, members []task.Address) (string, error)
	InviteLink(ctx context.Context, groupID string) (string, error)
	Promote(ctx context.Context, groupID string, addr task.Address) error
	SendText(ctx context.Context, to task.Address, text string) error
}
