// README: Hub: per-booking session groups with bounded fan-out and eviction of slow sessions.
package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
)

type group struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	// pubMu orders persist-then-publish sequences for this group.
	pubMu sync.Mutex
	refs  int
}

type Hub struct {
	mu     sync.Mutex
	groups map[Key]*group
	log    logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{groups: map[Key]*group{}, log: logging.Component(log, "realtime")}
}

// acquire returns the group for key, creating it, and pins it until release.
func (h *Hub) acquire(key Key) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[key]
	if !ok {
		g = &group{sessions: map[*Session]struct{}{}}
		h.groups[key] = g
	}
	g.refs++
	return g
}

func (h *Hub) release(key Key, g *group) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g.refs--
	if g.refs == 0 && h.groups[key] == g {
		delete(h.groups, key)
	}
}

// Join adds s to the group. Each joined session holds a reference until Leave.
func (h *Hub) Join(key Key, s *Session) {
	g := h.acquire(key)
	g.mu.Lock()
	g.sessions[s] = struct{}{}
	g.mu.Unlock()
	h.log.WithFields(logrus.Fields{
		"kind":       key.Kind,
		"booking_id": key.BookingID,
		"user_id":    s.UserID,
		"session_id": s.ID,
	}).Debug("session joined")
}

func (h *Hub) Leave(key Key, s *Session) {
	h.mu.Lock()
	g, ok := h.groups[key]
	h.mu.Unlock()
	if !ok {
		return
	}
	g.mu.Lock()
	_, member := g.sessions[s]
	delete(g.sessions, s)
	g.mu.Unlock()
	s.Close()
	if member {
		h.release(key, g)
	}
}

// Serialize runs fn while holding the group's publish lock, so that messages
// persisted and published inside fn reach subscribers in the order they were stored.
func (h *Hub) Serialize(key Key, fn func() error) error {
	g := h.acquire(key)
	defer h.release(key, g)
	g.pubMu.Lock()
	defer g.pubMu.Unlock()
	return fn()
}

// Deliver hands env to every matching local session without blocking. A
// session whose buffer is full is evicted.
func (h *Hub) Deliver(env Envelope) int {
	key := env.Key()
	h.mu.Lock()
	g, ok := h.groups[key]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	g.mu.Lock()
	snapshot := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		if env.Recipient == "" || s.UserID == env.Recipient {
			snapshot = append(snapshot, s)
		}
	}
	g.mu.Unlock()

	delivered := 0
	for _, s := range snapshot {
		if s.enqueue(env.Payload) {
			delivered++
			continue
		}
		h.log.WithFields(logrus.Fields{
			"kind":       key.Kind,
			"booking_id": key.BookingID,
			"session_id": s.ID,
		}).Warn("evicting slow session")
		h.Leave(key, s)
	}
	return delivered
}

// Sessions reports how many local sessions watch key.
func (h *Hub) Sessions(key Key) int {
	h.mu.Lock()
	g, ok := h.groups[key]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Active reports the number of groups with at least one session or publisher.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups)
}
