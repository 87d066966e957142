package protocol

import (
	"sync"

	"github.com/bbbhvac/hvaccore/internal/herr"
)

// OverflowPolicy controls what Ring.Push does when the ring is already at
// capacity.
type OverflowPolicy int

const (
	// DropOldest discards the oldest entry to make room (the default).
	DropOldest OverflowPolicy = iota
	// Fail returns ErrQueueFull instead of evicting anything.
	Fail
)

// Ring is a connection's bounded inbound or outbound message queue. Unlike
// the board writer's plain channel queue (C6), a connection ring supports
// querying the latest message of a given type — needed by keepalive
// bookkeeping and send_and_wait — so it is a mutex-guarded slice rather
// than a channel.
type Ring struct {
	mu       sync.Mutex
	entries  []*Message
	capacity int
}

// NewRing builds an empty Ring with the given bounded capacity.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity}
}

// Push appends msg, applying policy if the ring is already full.
func (r *Ring) Push(msg *Message, policy OverflowPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		switch policy {
		case Fail:
			return herr.ErrQueueFull
		default:
			r.entries = r.entries[1:]
		}
	}
	r.entries = append(r.entries, msg)
	return nil
}

// Latest returns the most recently pushed message of the given type, if
// any is still present in the ring.
func (r *Ring) Latest(typ Type) (*Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Type == typ {
			return r.entries[i], true
		}
	}
	return nil, false
}

// Len reports the current number of queued entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// All returns a snapshot copy of the ring's current contents, oldest
// first.
func (r *Ring) All() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Message, len(r.entries))
	copy(out, r.entries)
	return out
}
