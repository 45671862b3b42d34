package tracking

import (
	"sync"

	"quickbite/internal/models"
)

const (
	EventPosition = "position"
	EventClosed   = "closed"
)

// Event is what flows through a tracking room: position samples while the
// delivery is moving, and a single closed event when the order terminates.
type Event struct {
	Type     string           `json:"type"`
	Position *models.Position `json:"position,omitempty"`
}

// subscriberBuffer bounds how far a consumer may fall behind before it is
// considered too slow and dropped.
const subscriberBuffer = 16

type Subscriber struct {
	C    chan Event
	once sync.Once
}

func newSubscriber() *Subscriber {
	return &Subscriber{C: make(chan Event, subscriberBuffer)}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.C) })
}

// Hub is the room registry: order id -> set of subscriber connections. It is
// an injectable instance, not a package singleton, so tests can run several
// isolated hubs. All methods are safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe joins the room for an order and returns the subscriber plus a
// cancel function that leaves the room and closes the channel.
func (h *Hub) Subscribe(orderID string) (*Subscriber, func()) {
	sub := newSubscriber()

	h.mu.Lock()
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[orderID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.dropLocked(orderID, sub)
		h.mu.Unlock()
	}
	return sub, cancel
}

// Publish fans an event out to every subscriber in the room without ever
// blocking on one of them. A subscriber whose buffer is full is dropped from
// the room so the publisher and the other subscribers keep flowing.
//
// Sends happen under the read lock and channels are only ever closed under
// the write lock, so a send can never race a concurrent cancel's close.
func (h *Hub) Publish(orderID string, evt Event) {
	var stalled []*Subscriber

	h.mu.RLock()
	for sub := range h.rooms[orderID] {
		select {
		case sub.C <- evt:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range stalled {
		h.dropLocked(orderID, sub)
	}
	h.mu.Unlock()
}

// CloseRoom delivers a terminal event to every subscriber, drops them all and
// deletes the room. Closing an absent room is a no-op.
func (h *Hub) CloseRoom(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[orderID]
	delete(h.rooms, orderID)
	for sub := range room {
		select {
		case sub.C <- Event{Type: EventClosed}:
		default:
		}
		sub.close()
	}
}

// RoomSize reports the number of active subscribers for an order.
func (h *Hub) RoomSize(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[orderID])
}

// dropLocked removes the subscriber and closes its channel. Callers must hold
// the write lock; that is the invariant keeping closes out of in-flight sends.
func (h *Hub) dropLocked(orderID string, sub *Subscriber) {
	if room, ok := h.rooms[orderID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	sub.close()
}
