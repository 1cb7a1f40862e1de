package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/presence"
)

type memPubSub struct {
	mu        sync.Mutex
	handlers  map[uuid.UUID]func(event string, payload []byte)
	published int
}

func newMemPubSub() *memPubSub {
	return &memPubSub{handlers: make(map[uuid.UUID]func(string, []byte))}
}

func (m *memPubSub) PublishLiveEvent(id uuid.UUID, event string, payload []byte) error {
	m.mu.Lock()
	m.published++
	h := m.handlers[id]
	m.mu.Unlock()
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (m *memPubSub) SubscribeLive(id uuid.UUID, handler func(string, []byte)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}, nil
}

func (m *memPubSub) subscribed(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[id]
	return ok
}

type fakePresence struct {
	mu      sync.Mutex
	members map[string]bool
	joins   int
	leaves  int
	ended   bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{members: make(map[string]bool)}
}

func (p *fakePresence) Join(_ context.Context, _ uuid.UUID, viewer string) (presence.JoinResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins++
	if p.ended {
		return presence.JoinResult{}, models.ErrBroadcastEnded
	}
	heartbeat := p.members[viewer]
	p.members[viewer] = true
	return presence.JoinResult{Success: true, Viewers: len(p.members), TotalViewers: len(p.members), Heartbeat: heartbeat}, nil
}

func (p *fakePresence) Leave(_ context.Context, _ uuid.UUID, viewer string) (presence.LeaveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaves++
	removed := p.members[viewer]
	delete(p.members, viewer)
	return presence.LeaveResult{Success: true, Viewers: len(p.members), Removed: removed}, nil
}

func (p *fakePresence) endBroadcast() {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
}

func (p *fakePresence) counts() (joins, leaves int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joins, p.leaves
}

type staticTokens struct {
	users map[string]uuid.UUID
}

func (s staticTokens) Validate(token string) (*auth.Claims, error) {
	id, ok := s.users[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{UserID: id, Role: auth.RoleBuyer}, nil
}
