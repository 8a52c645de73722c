// Package realtime provides a lightweight in-process publish/subscribe hub
// used to fan out executed-search events to multiple listeners (e.g.
// WebSocket firehose sessions).
//
// Fan-out is best effort: a listener whose buffer is full drops events
// rather than backpressuring request handling. There is no persistence or
// replay; the stream is ephemeral.
package realtime

import (
	"sync"
	"time"
)

// SearchEvent describes one executed search as seen by observers: the
// normalized query, the section it ran against, and how it was served.
type SearchEvent struct {
	Query     string    `json:"query"`
	Section   string    `json:"section"`
	Hits      int       `json:"hits"`
	Cached    bool      `json:"cached"`
	Truncated bool      `json:"truncated,omitempty"`
	At        time.Time `json:"at"`
}

// InternalEvent is the hub's envelope, leaving room for additional event
// kinds (heartbeat, info) without changing channel element types. For now
// only Type == "search" is produced.
type InternalEvent struct {
	Type   string      `json:"type"`
	Search SearchEvent `json:"search"`
}

// FirehoseHub is an in-memory fan-out dispatcher. Each registered listener
// receives events via its own buffered channel; a full buffer means the
// event is dropped for that listener only.
//
// The hub is concurrency-safe.
type FirehoseHub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan InternalEvent
	nextID    uint64
	bufSize   int
}

// NewFirehoseHub constructs a hub with the given per-listener buffer size.
// If bufSize <= 0, a default of 32 is used.
func NewFirehoseHub(bufSize int) *FirehoseHub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &FirehoseHub{
		listeners: make(map[uint64]chan InternalEvent),
		bufSize:   bufSize,
	}
}

// Register adds a new listener and returns (listenerID, receiveOnlyChannel).
// Callers must later Unregister(id) to release resources.
func (h *FirehoseHub) Register() (uint64, <-chan InternalEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan InternalEvent, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener with the given id and closes its channel.
// It is safe to call multiple times; unknown ids are ignored.
func (h *FirehoseHub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Broadcast delivers a search event to all registered listeners, best effort.
func (h *FirehoseHub) Broadcast(ev SearchEvent) {
	ie := InternalEvent{Type: "search", Search: ev}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- ie:
		default:
			// Drop for slow listener.
		}
	}
}

// Size returns the current number of active listeners.
func (h *FirehoseHub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
