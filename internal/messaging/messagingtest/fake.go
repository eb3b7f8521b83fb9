// Package messagingtest provides an in-memory messaging.Client for tests.
package messagingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/task"
)

// Group is a group created through the fake.
type Group struct {
	ID      string
	Name    string
	Members []task.Address
	Admins  []task.Address
}

// Message is a text sent through the fake.
type Message struct {
	To   task.Address
	Text string
}

// FakeClient records calls and answers from configurable state. Every
// address is considered registered unless listed in Unregistered.
type FakeClient struct {
	SelfAddr     task.Address
	Unregistered map[task.Address]bool

	ValidateErr error
	CreateErr   error
	InviteErr   error
	PromoteErr  error
	SendErr     map[task.Address]error

	mu       sync.Mutex
	groups   []Group
	messages []Message
	creates  int
}

var _ messaging.Client = (*FakeClient)(nil)

// NewFakeClient returns a fake whose own identity is self.
func NewFakeClient(self task.Address) *FakeClient {
	return &FakeClient{SelfAddr: self, Unregistered: map[task.Address]bool{}, SendErr: map[task.Address]error{}}
}

func (f *FakeClient) Self() task.Address { return f.SelfAddr }

func (f *FakeClient) ValidateAddresses(_ context.Context, addrs []task.Address) ([]messaging.Presence, error) {
	if f.ValidateErr != nil {
		return nil, f.ValidateErr
	}
	out := make([]messaging.Presence, len(addrs))
	for i, a := range addrs {
		out[i] = messaging.Presence{Address: a, Exists: !f.Unregistered[a]}
	}
	return out, nil
}

func (f *FakeClient) CreateGroup(_ context.Context, name string, members []task.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	id := fmt.Sprintf("1203630%d@g.us", len(f.groups)+1)
	f.groups = append(f.groups, Group{ID: id, Name: name, Members: append([]task.Address(nil), members...)})
	return id, nil
}

func (f *FakeClient) InviteLink(_ context.Context, groupID string) (string, error) {
	if f.InviteErr != nil {
		return "", f.InviteErr
	}
	return "https://chat.whatsapp.com/" + groupID, nil
}

func (f *FakeClient) Promote(_ context.Context, groupID string, addr task.Address) error {
	if f.PromoteErr != nil {
		return f.PromoteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.groups {
		if f.groups[i].ID == groupID {
			f.groups[i].Admins = append(f.groups[i].Admins, addr)
			return nil
		}
	}
	return fmt.Errorf("group %s not found", groupID)
}

func (f *FakeClient) SendText(_ context.Context, to task.Address, text string) error {
	if err := f.SendErr[to]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, Message{To: to, Text: text})
	return nil
}

// CreateCalls returns how many times CreateGroup was called.
func (f *FakeClient) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// Groups returns a copy of the created groups.
func (f *FakeClient) Groups() []Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Group(nil), f.groups...)
}

// Messages returns a copy of the sent texts.
func (f *FakeClient) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}
