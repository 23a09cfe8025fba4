// Package registry tracks live hub connections, their roles and the
// project each one is bound to.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/agent-hub/internal/protocol"
)

var (
	// ErrNotFound is returned for an unknown connection id.
	ErrNotFound = errors.New("connection not found")

	// ErrAlreadyRegistered is returned when a connection registers twice.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrInvalidRole is returned when promoting to the unregistered role.
	ErrInvalidRole = errors.New("invalid role")
)

// Transport is the outbound side of a connection. Send queues a frame for
// delivery and must not block on the network.
type Transport interface {
	Send(frame []byte) error
}

// Connection is a snapshot of one registry entry. Values are copies and
// safe to hold after the connection goes away.
type Connection struct {
	ID          string
	Role        protocol.Role
	RemoteAddr  string
	ConnectedAt time.Time
	Project     *protocol.Project

	seq       uint64
	transport Transport
}

// Send queues frame on the connection's transport.
func (c Connection) Send(frame []byte) error {
	if c.transport == nil {
		return ErrNotFound
	}
	return c.transport.Send(frame)
}

// Stats counts registered connections by role.
type Stats struct {
	Apps         int
	Agents       int
	Observers    int
	Unregistered int
	Total        int
	Uptime       time.Duration
}

// Registry is the connection table. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	seq   uint64

	startedAt time.Time
	now       func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		startedAt: now(),
		now:       now,
	}
}

// Add records a new unregistered connection and returns its id.
func (r *Registry) Add(t Transport, remoteAddr string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.seq++
	r.conns[id] = &Connection{
		ID:          id,
		Role:        protocol.RoleUnregistered,
		RemoteAddr:  remoteAddr,
		ConnectedAt: r.now(),
		seq:         r.seq,
		transport:   t,
	}
	return id
}

// Promote assigns a role to an unregistered connection. A connection's role
// is fixed once set.
func (r *Registry) Promote(id string, role protocol.Role, project *protocol.Project) (Connection, error) {
	if role == protocol.RoleUnregistered {
		return Connection{}, ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	if c.Role != protocol.RoleUnregistered {
		return *c, ErrAlreadyRegistered
	}

	c.Role = role
	c.Project = cloneProject(project)
	return *c, nil
}

// SetProject rebinds a connection to project.
func (r *Registry) SetProject(id string, project *protocol.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.Project = cloneProject(project)
	return nil
}

// Remove deletes a connection and returns its last state.
func (r *Registry) Remove(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return *c, true
}

// Get returns a connection by id.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// ListByRole returns every connection holding role, oldest first.
func (r *Registry) ListByRole(role protocol.Role) []Connection {
	r.mu.RLock()
	result := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Role == role {
			result = append(result, *c)
		}
	}
	r.mu.RUnlock()

	sortBySeq(result)
	return result
}

// List returns every connection, oldest first.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	result := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, *c)
	}
	r.mu.RUnlock()

	sortBySeq(result)
	return result
}

// Stats returns per-role counts and the registry uptime.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, c := range r.conns {
		switch c.Role {
		case protocol.RoleApp:
			s.Apps++
		case protocol.RoleAgent:
			s.Agents++
		case protocol.RoleObserver:
			s.Observers++
		default:
			s.Unregistered++
		}
	}
	s.Total = len(r.conns)
	s.Uptime = r.now().Sub(r.startedAt)
	return s
}

// StartedAt returns the time the registry was created.
func (r *Registry) StartedAt() time.Time {
	return r.startedAt
}

func sortBySeq(conns []Connection) {
	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })
}

func cloneProject(p *protocol.Project) *protocol.Project {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = append([]byte(nil), p.Metadata...)
	}
	return &cp
}
