package space

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/pkg/concurrent"
	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

var (
	ErrSpaceExists   = errors.New("space already exists")
	ErrSpaceNotFound = errors.New("space not found")
)

// Manager owns the spaces of a server. Spaces created after Start are
// started right away.
type Manager struct {
	cfg     Config
	systems []events.System
	logger  log.Log

	mu      sync.RWMutex
	spaces  map[ID]*Space
	ctx     context.Context
	started bool
}

func NewManager(cfg Config, systems ...events.System) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.Provide()
	}
	return &Manager{
		cfg:     cfg,
		systems: systems,
		logger:  cfg.Logger.With(log.String("component", "spaces")),
		spaces:  make(map[ID]*Space),
	}
}

// Create adds a space running the manager's systems.
func (m *Manager) Create(id ID, name string) (*Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[id]; ok {
		return nil, fmt.Errorf("space %d: %w", id, ErrSpaceExists)
	}
	s := New(id, name, m.cfg, m.systems...)
	m.spaces[id] = s
	if m.started {
		s.Start(m.ctx)
	}
	return s, nil
}

func (m *Manager) Get(id ID) (*Space, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.spaces[id]
	return s, ok
}

// Lookup is Get with an ErrSpaceNotFound error.
func (m *Manager) Lookup(id ID) (*Space, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("space %d: %w", id, ErrSpaceNotFound)
	}
	return s, nil
}

// All returns the spaces ordered by id.
func (m *Manager) All() []*Space {
	m.mu.RLock()
	out := make([]*Space, 0, len(m.spaces))
	for _, s := range m.spaces {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove stops and forgets a space.
func (m *Manager) Remove(id ID) error {
	m.mu.Lock()
	s, ok := m.spaces[id]
	delete(m.spaces, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("space %d: %w", id, ErrSpaceNotFound)
	}
	s.Stop()
	return nil
}

func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.ctx, m.started = ctx, true
	for _, s := range m.spaces {
		s.Start(ctx)
	}
	m.logger.Info("Spaces started", log.Int("count", len(m.spaces)))
}

// Stop stops every space. Queued events are still dispatched.
func (m *Manager) Stop() {
	concurrent.Each(sequence.From(m.All()), (*Space).Stop)
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
}
