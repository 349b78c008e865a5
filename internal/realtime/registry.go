// README: In-memory presence registry and room membership tables.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"savora/internal/auth"
	"savora/internal/types"
)

// Link is the sending side of a live connection as seen by the registry.
type Link interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Client is one authenticated connection and its room memberships.
// Owned exclusively by the registry; destroyed on disconnect.
type Client struct {
	ConnID      uuid.UUID
	Principal   auth.Principal
	Link        Link
	Rooms       map[types.RoomKey]struct{}
	ConnectedAt time.Time
}

// Registry is the single authoritative presence and room-membership table
// for this process. All mutation goes through one mutex; broadcast fan-out
// only reads and never blocks on a slow client because Link.Send is
// buffered.
type Registry struct {
	mu         sync.RWMutex
	conns      map[uuid.UUID]*Client
	principals map[types.ID]map[uuid.UUID]*Client
	rooms      map[types.RoomKey]map[uuid.UUID]*Client

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:      make(map[uuid.UUID]*Client),
		principals: make(map[types.ID]map[uuid.UUID]*Client),
		rooms:      make(map[types.RoomKey]map[uuid.UUID]*Client),
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// Register records an authenticated connection. Multiple connections per
// principal are allowed (phone + web).
func (r *Registry) Register(link Link, p auth.Principal) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Client{
		ConnID:      link.ID(),
		Principal:   p,
		Link:        link,
		Rooms:       make(map[types.RoomKey]struct{}),
		ConnectedAt: time.Now(),
	}
	r.conns[c.ConnID] = c

	byConn, ok := r.principals[p.ID]
	if !ok {
		byConn = make(map[uuid.UUID]*Client)
		r.principals[p.ID] = byConn
	}
	byConn[c.ConnID] = c

	r.logger.Debug("connection registered",
		slog.String("connID", c.ConnID.String()),
		slog.String("principalID", string(p.ID)),
		slog.String("role", string(p.Role)))
	return c
}

// Deregister removes the connection from every room and the presence table.
func (r *Registry) Deregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	for room := range c.Rooms {
		r.leaveLocked(c, room)
	}

	if byConn, ok := r.principals[c.Principal.ID]; ok {
		delete(byConn, connID)
		if len(byConn) == 0 {
			delete(r.principals, c.Principal.ID)
		}
	}
	r.logger.Debug("connection deregistered", slog.String("connID", connID.String()))
}

// Join adds the connection to a room, creating the room lazily.
func (r *Registry) Join(connID uuid.UUID, room types.RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]*Client)
		r.rooms[room] = members
	}
	members[connID] = c
	c.Rooms[room] = struct{}{}
	return true
}

// Leave removes the connection from a room; empty rooms are garbage
// collected immediately.
func (r *Registry) Leave(connID uuid.UUID, room types.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	r.leaveLocked(c, room)
}

func (r *Registry) leaveLocked(c *Client, room types.RoomKey) {
	delete(c.Rooms, room)
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ConnID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Client returns the registry record for a connection.
func (r *Registry) Client(connID uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// IsOnline reports whether the principal has at least one live connection.
func (r *Registry) IsOnline(principalID types.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.principals[principalID]) > 0
}

// ConnectedCount returns the number of live connections.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomSize returns the current membership count of a room.
func (r *Registry) RoomSize(room types.RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// InRoom reports whether the connection is a member of the room.
func (r *Registry) InRoom(connID uuid.UUID, room types.RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = c.Rooms[room]
	return ok
}

// Broadcast sends the message to every current member of the room and
// returns the number of recipients. A zero-member room is a silent no-op.
func (r *Registry) Broadcast(room types.RoomKey, message []byte) int {
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[room]))
	for _, c := range r.rooms[room] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		c.Link.Send(message)
	}
	return len(members)
}

// Clients returns every live connection; used for shutdown.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Sweep drops rooms with zero members and returns how many were removed.
// Leave/Deregister already collect empty rooms; the sweep bounds memory
// against any path that misses the inline cleanup.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for room, members := range r.rooms {
		if len(members) == 0 {
			delete(r.rooms, room)
			removed++
		}
	}
	return removed
}

// RunSweeper runs Sweep on a fixed interval until the context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept empty rooms", slog.Int("count", n))
			}
		}
	}
}
