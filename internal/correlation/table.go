package correlation

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateRequestID is returned when a requestId is already in flight.
var ErrDuplicateRequestID = errors.New("duplicate request id")

// Pending is one request awaiting its terminal response.
type Pending struct {
	RequestID string
	OriginID  string // connection that sent the request
	TargetID  string // connection the request was forwarded to
	Type      string // e.g. "fsEvent"
	Action    string
	CreatedAt time.Time
	Deadline  time.Time
}

// Table maps requestIds to pending requests. Every entry leaves the table
// exactly once, by resolution, expiry or cancellation.
type Table struct {
	mu      sync.Mutex
	entries map[string]Pending
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Pending)}
}

// Insert adds p. It fails if p.RequestID is already pending.
func (t *Table) Insert(p Pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[p.RequestID]; exists {
		return ErrDuplicateRequestID
	}
	t.entries[p.RequestID] = p
	return nil
}

// Resolve removes and returns the entry for requestID.
func (t *Table) Resolve(requestID string) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	return p, ok
}

// ResolveFrom removes the entry only when responderID is the connection the
// request was forwarded to. On mismatch the entry stays pending and found
// reports whether one existed.
func (t *Table) ResolveFrom(requestID, responderID string) (p Pending, ok, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, found = t.entries[requestID]
	if !found || p.TargetID != responderID {
		return Pending{}, false, found
	}
	delete(t.entries, requestID)
	return p, true, true
}

// Get returns the entry for requestID without removing it.
func (t *Table) Get(requestID string) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[requestID]
	return p, ok
}

// SweepExpired removes and returns every entry whose deadline is at or
// before now.
func (t *Table) SweepExpired(now time.Time) []Pending {
	return t.removeWhere(func(p Pending) bool { return !p.Deadline.After(now) })
}

// CancelAllFrom removes every entry originated by connID.
func (t *Table) CancelAllFrom(connID string) []Pending {
	return t.removeWhere(func(p Pending) bool { return p.OriginID == connID })
}

// CancelByTarget removes every entry forwarded to connID.
func (t *Table) CancelByTarget(connID string) []Pending {
	return t.removeWhere(func(p Pending) bool { return p.TargetID == connID })
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) removeWhere(match func(Pending) bool) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Pending
	for id, p := range t.entries {
		if match(p) {
			removed = append(removed, p)
			delete(t.entries, id)
		}
	}
	return removed
}
