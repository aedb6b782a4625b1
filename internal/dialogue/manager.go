package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/projectech/VoiceGuide/internal/flow"
	"github.com/projectech/VoiceGuide/internal/models"
)

// DefaultKeepFinished is how many ended conversations stay queryable.
const DefaultKeepFinished = 32

// ErrConversationNotFound is returned for unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// Manager runs at most one conversation at a time. Starting a new one
// cancels the previous one; ended conversations remain readable for a while.
type Manager struct {
	gateway ActionGateway
	opts    []Option
	keep    int

	mu      sync.Mutex
	active  *Engine
	engines map[string]*Engine
	order   []string
}

// NewManager creates a manager that builds engines with the given gateway and options.
func NewManager(gateway ActionGateway, opts ...Option) *Manager {
	return &Manager{
		gateway: gateway,
		opts:    opts,
		keep:    DefaultKeepFinished,
		engines: make(map[string]*Engine),
	}
}

// Start cancels the active conversation, if any, and starts a new one of type
// ft. ctx bounds the conversation's lifetime, not just the call.
func (m *Manager) Start(ctx context.Context, ft models.FlowType, opts ...Option) (*Engine, error) {
	def, err := flow.Lookup(ft)
	if err != nil {
		return nil, err
	}

	all := make([]Option, 0, len(m.opts)+len(opts))
	all = append(all, m.opts...)
	all = append(all, opts...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := NewEngine(def, m.gateway, all...)

	m.mu.Lock()
	prev := m.active
	m.active = e
	m.engines[e.ID()] = e
	m.order = append(m.order, e.ID())
	m.evictLocked()
	m.mu.Unlock()

	if prev != nil {
		slog.Info("Manager.Start: cancelling previous conversation", "previous", prev.ID(), "next", e.ID())
		prev.Cancel()
	}
	if err := e.Start(ctx); err != nil {
		m.forget(e)
		return nil, err
	}
	return e, nil
}

// forget drops an engine that never started.
func (m *Manager) forget(e *Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == e {
		m.active = nil
	}
	delete(m.engines, e.ID())
	for i, id := range m.order {
		if id == e.ID() {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the conversation with the given id.
func (m *Manager) Get(id string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return e, nil
}

// Active returns the running conversation, if there is one.
func (m *Manager) Active() (*Engine, bool) {
	m.mu.Lock()
	e := m.active
	m.mu.Unlock()
	if e == nil {
		return nil, false
	}
	select {
	case <-e.Done():
		return nil, false
	default:
		return e, true
	}
}

// List returns snapshots of the known conversations, oldest first.
func (m *Manager) List() []models.ConversationState {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.order))
	for _, id := range m.order {
		engines = append(engines, m.engines[id])
	}
	m.mu.Unlock()

	out := make([]models.ConversationState, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Snapshot())
	}
	return out
}

// Cancel cancels the conversation with the given id.
func (m *Manager) Cancel(id string) error {
	e, err := m.Get(id)
	if err != nil {
		return err
	}
	e.Cancel()
	return nil
}

// Shutdown cancels every conversation and waits for them to end or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		e.Cancel()
	}
	for _, e := range engines {
		select {
		case <-e.Done():
		case <-ctx.Done():
			return ctx.Err()
		default:
			if !e.started.Load() {
				continue
			}
			if err := e.Wait(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// evictLocked drops the oldest ended conversations beyond the keep limit.
func (m *Manager) evictLocked() {
	for len(m.order) > m.keep {
		oldest := m.engines[m.order[0]]
		if oldest == m.active {
			return
		}
		select {
		case <-oldest.Done():
		default:
			oldest.Cancel()
		}
		delete(m.engines, m.order[0])
		m.order = m.order[1:]
	}
}
