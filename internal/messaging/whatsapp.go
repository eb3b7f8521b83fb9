package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/KafClaw/groupforge/internal/task"
)

// ErrNotPaired is returned by Start when the owner has no linked device yet.
var ErrNotPaired = errors.New("whatsapp session not paired")

// Sessions manages one whatsmeow connection per owner, each backed by its own
// sqlite device store under dir.
type Sessions struct {
	dir      string
	registry *Registry

	mu     sync.Mutex
	active map[string]*waSession
}

type waSession struct {
	container *sqlstore.Container
	client    *whatsmeow.Client
}

// NewSessions creates a session manager storing device databases in dir.
func NewSessions(dir string, registry *Registry) *Sessions {
	return &Sessions{dir: dir, registry: registry, active: make(map[string]*waSession)}
}

// DBPath returns the device database path for owner.
func (s *Sessions) DBPath(owner string) string {
	return filepath.Join(s.dir, owner+".db")
}

func (s *Sessions) open(ctx context.Context, owner string) (*sqlstore.Container, *store.Device, error) {
	if !task.ValidOwnerID(owner) {
		return nil, nil, fmt.Errorf("invalid owner id %q", owner)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	dsn := "file:" + s.DBPath(owner) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, NewLogger("wa-db:"+owner))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init whatsapp db: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to get device: %w", err)
	}
	return container, device, nil
}

// Paired reports whether owner has a linked device on disk.
func (s *Sessions) Paired(ctx context.Context, owner string) (bool, error) {
	if _, err := os.Stat(s.DBPath(owner)); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	container, device, err := s.open(ctx, owner)
	if err != nil {
		return false, err
	}
	defer container.Close()
	return device.ID != nil, nil
}

// Pair links a new device for owner by QR code. Each code is written as a PNG
// to qrPath and reported through onEvent. Pair returns once the phone has
// scanned a code, the codes time out, or ctx is cancelled.
func (s *Sessions) Pair(ctx context.Context, owner, qrPath string, onEvent func(event string)) error {
	container, device, err := s.open(ctx, owner)
	if err != nil {
		return err
	}
	defer container.Close()

	if device.ID != nil {
		onEvent("already-paired")
		return nil
	}

	client := whatsmeow.NewClient(device, NewLogger("wa-pair:"+owner))
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get qr channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err != nil {
				slog.Warn("Failed to write pairing QR", "path", qrPath, "error", err)
			}
			onEvent("code")
		case "success":
			onEvent("success")
			return nil
		case "timeout":
			return errors.New("pairing timed out")
		default:
			if evt.Error != nil {
				return fmt.Errorf("pairing failed: %w", evt.Error)
			}
			onEvent(evt.Event)
		}
	}
	return ctx.Err()
}

// Start connects an already paired owner and registers the session. The
// registry marks it ready once the connection is established.
func (s *Sessions) Start(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[owner]; ok {
		return nil
	}

	container, device, err := s.open(ctx, owner)
	if err != nil {
		return err
	}
	if device.ID == nil {
		container.Close()
		return ErrNotPaired
	}

	client := whatsmeow.NewClient(device, NewLogger("wa-client:"+owner))
	client.EnableAutoReconnect = true
	client.AddEventHandler(func(evt interface{}) { s.handleEvent(owner, evt) })

	s.registry.Register(owner, &whatsAppClient{cli: client})
	if err := client.Connect(); err != nil {
		s.registry.Remove(owner)
		container.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.active[owner] = &waSession{container: container, client: client}
	slog.Info("WhatsApp session started", "owner", owner)
	return nil
}

func (s *Sessions) handleEvent(owner string, evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.registry.SetReady(owner, true)
	case *events.Disconnected:
		s.registry.SetReady(owner, false)
	case *events.StreamReplaced:
		s.registry.SetReady(owner, false)
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out", "owner", owner, "reason", v.Reason.String())
		s.registry.SetReady(owner, false)
		s.registry.Remove(owner)
		s.forget(owner)
	}
}

// forget drops a logged out session so a later Start opens a fresh one.
func (s *Sessions) forget(owner string) {
	s.mu.Lock()
	sess, ok := s.active[owner]
	delete(s.active, owner)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.client.Disconnect()
	sess.container.Close()
}

// Stop disconnects owner. A task already in flight finishes on its own; the
// scheduler declines new drains once readiness drops.
func (s *Sessions) Stop(owner string) {
	s.mu.Lock()
	sess, ok := s.active[owner]
	delete(s.active, owner)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.registry.SetReady(owner, false)
	s.registry.Remove(owner)
	sess.client.Disconnect()
	sess.container.Close()
	slog.Info("WhatsApp session stopped", "owner", owner)
}

// Close stops every active session.
func (s *Sessions) Close() {
	s.mu.Lock()
	owners := make([]string, 0, len(s.active))
	for o := range s.active {
		owners = append(owners, o)
	}
	s.mu.Unlock()
	for _, o := range owners {
		s.Stop(o)
	}
}

// whatsAppClient adapts a whatsmeow client to Client.
type whatsAppClient struct {
	cli *whatsmeow.Client
}

func (c *whatsAppClient) Self() task.Address {
	if c.cli.Store.ID == nil {
		return ""
	}
	return task.Address(c.cli.Store.ID.ToNonAD().String())
}

func (c *whatsAppClient) ValidateAddresses(ctx context.Context, addrs []task.Address) ([]Presence, error) {
	phones := make([]string, len(addrs))
	for i, a := range addrs {
		phones[i] = "+" + a.User()
	}
	resp, err := c.cli.IsOnWhatsApp(ctx, phones)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(resp))
	for _, r := range resp {
		if !r.IsIn {
			continue
		}
		found[r.JID.User] = true
		found[strings.TrimPrefix(r.Query, "+")] = true
	}
	out := make([]Presence, len(addrs))
	for i, a := range addrs {
		out[i] = Presence{Address: a, Exists: found[a.User()]}
	}
	return out, nil
}

func (c *whatsAppClient) CreateGroup(ctx context.Context, name string, members []task.Address) (string, error) {
	self := c.Self().User()
	jids := make([]types.JID, 0, len(members))
	for _, m := range members {
		if m.User() == self {
			continue
		}
		jid, err := types.ParseJID(string(m))
		if err != nil {
			return "", fmt.Errorf("invalid JID %q: %w", m, err)
		}
		jids = append(jids, jid)
	}
	info, err := c.cli.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: name, Participants: jids})
	if err != nil {
		return "", err
	}
	return info.JID.String(), nil
}

func (c *whatsAppClient) InviteLink(ctx context.Context, groupID string) (string, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return "", fmt.Errorf("invalid group JID: %w", err)
	}
	return c.cli.GetGroupInviteLink(ctx, jid, false)
}

func (c *whatsAppClient) Promote(ctx context.Context, groupID string, addr task.Address) error {
	group, err := types.ParseJID(groupID)
	if err != nil {
		return fmt.Errorf("invalid group JID: %w", err)
	}
	user, err := types.ParseJID(string(addr))
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	res, err := c.cli.UpdateGroupParticipants(ctx, group, []types.JID{user}, whatsmeow.ParticipantChangePromote)
	if err != nil {
		return err
	}
	for _, p := range res {
		if p.Error != 0 {
			return fmt.Errorf("promote %s: server error %d", addr, p.Error)
		}
	}
	return nil
}

func (c *whatsAppClient) SendText(ctx context.Context, to task.Address, text string) error {
	jid, err := types.ParseJID(string(to))
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}
