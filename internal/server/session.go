package server

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/models"
	"github.com/NarukamiTO/server-sub000/internal/core/nodes"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
	"github.com/NarukamiTO/server-sub000/internal/core/space"
	"github.com/NarukamiTO/server-sub000/pkg/sequence"
)

// HashSize is the length of a session hash.
const HashSize = 32

type Hash [HashSize]byte

var (
	sessionComponents = models.NewComponentType[*Session]("Session")
	sessionNode       = nodes.Single(sessionComponents)
)

// Session is one client: its control channel, the space channels it opened
// and the user it logged in as.
type Session struct {
	id          uuid.UUID
	hash        Hash
	connectedAt time.Time
	control     *protocol.Channel
	object      *models.GameObject
	user        atomic.Pointer[models.GameObject]

	mu       sync.Mutex
	pending  map[space.ID]*events.Deferred[*protocol.Channel]
	channels []*protocol.Channel
}

func newSession(control *protocol.Channel) (*Session, error) {
	s := &Session{
		id:          uuid.New(),
		connectedAt: time.Now(),
		control:     control,
		pending:     make(map[space.ID]*events.Deferred[*protocol.Channel]),
	}
	if _, err := rand.Read(s.hash[:]); err != nil {
		return nil, fmt.Errorf("session hash: %w", err)
	}
	obj, err := models.NewGameObject(models.NextTransientID(), models.Class{Name: "session"}, sessionComponents.New(s))
	if err != nil {
		return nil, err
	}
	s.object = obj
	return s, nil
}

func (s *Session) ID() uuid.UUID                { return s.id }
func (s *Session) Hash() Hash                   { return s.hash }
func (s *Session) ConnectedAt() time.Time       { return s.connectedAt }
func (s *Session) Control() *protocol.Channel   { return s.control }
func (s *Session) Object() *models.GameObject   { return s.object }
func (s *Session) User() *models.GameObject     { return s.user.Load() }
func (s *Session) setUser(u *models.GameObject) { s.user.Store(u) }

// expect registers a pending space channel. A second request for the same
// space shares the first one's deferred.
func (s *Session) expect(id space.ID) *events.Deferred[*protocol.Channel] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.pending[id]; ok {
		return d
	}
	d := events.NewDeferred[*protocol.Channel]()
	s.pending[id] = d
	return d
}

// take removes the pending request for id.
func (s *Session) take(id space.ID) (*events.Deferred[*protocol.Channel], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pending[id]
	delete(s.pending, id)
	return d, ok
}

func (s *Session) addChannel(ch *protocol.Channel) {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
}

// SpaceChannels returns the open space channels of the session.
func (s *Session) SpaceChannels() []*protocol.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sequence.From(s.channels).
		Filter(func(ch *protocol.Channel) bool { return !ch.IsClosed() }).
		Collect()
}

// close closes every channel of the session.
func (s *Session) close() {
	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
	_ = s.control.Close()
}

// Sessions is the peer identity registry: sessions by id, by hash and by
// control channel, plus the usernames in use.
type Sessions struct {
	max int

	mu        sync.RWMutex
	byID      map[uuid.UUID]*Session
	byHash    map[Hash]*Session
	byChannel map[uuid.UUID]*Session
	usernames map[string]*Session
}

// NewSessions returns a registry holding at most max sessions. A max of
// zero means no limit.
func NewSessions(max int) *Sessions {
	return &Sessions{
		max:       max,
		byID:      make(map[uuid.UUID]*Session),
		byHash:    make(map[Hash]*Session),
		byChannel: make(map[uuid.UUID]*Session),
		usernames: make(map[string]*Session),
	}
}

// Create starts a session whose control channel is ch.
func (r *Sessions) Create(ch *protocol.Channel) (*Session, error) {
	s, err := newSession(ch)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byChannel[ch.ID()]; ok {
		return nil, fmt.Errorf("%s: %w", ch, ErrSessionExists)
	}
	if r.max > 0 && len(r.byID) >= r.max {
		return nil, ErrMaxClientsReached
	}
	r.byID[s.id] = s
	r.byHash[s.hash] = s
	r.byChannel[ch.ID()] = s
	return s, nil
}

func (r *Sessions) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// ByHash looks a session up by the hash its client presents on new streams.
func (r *Sessions) ByHash(hash []byte) (*Session, bool) {
	if len(hash) != HashSize {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byHash[Hash(hash)]
	return s, ok
}

// ByChannel finds the session controlled by ch.
func (r *Sessions) ByChannel(ch *protocol.Channel) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byChannel[ch.ID()]
	return s, ok
}

// claim reserves username for s.
func (r *Sessions) claim(s *Session, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.usernames[username]; ok {
		if owner == s {
			return ErrAlreadyLoggedIn
		}
		return fmt.Errorf("%s: %w", username, ErrUserLoggedIn)
	}
	for _, owner := range r.usernames {
		if owner == s {
			return ErrAlreadyLoggedIn
		}
	}
	r.usernames[username] = s
	return nil
}

func (r *Sessions) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, s.id)
	delete(r.byHash, s.hash)
	delete(r.byChannel, s.control.ID())
	for name, owner := range r.usernames {
		if owner == s {
			delete(r.usernames, name)
		}
	}
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns the sessions ordered by connection time.
func (r *Sessions) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sequence.FromMap(r.byID).
		Sort(func(a, b *Session) bool { return a.connectedAt.Before(b.connectedAt) }).
		Collect()
}
