// Package broadcast fans live events out to connected UI subscribers. Delivery is
// best-effort: a slow subscriber loses events instead of stalling the publisher.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventSearchResultsAvailable announces a ranked result.
const EventSearchResultsAvailable = "searchResultsAvailable"

// Event is one named broadcast payload.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

var droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "comicsearch",
	Subsystem: "broadcast",
	Name:      "dropped_total",
	Help:      "Broadcast events dropped because a subscriber buffer was full.",
})

// Collectors returns the hub's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{droppedTotal}
}

// Hub tracks subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a function that cancels the subscription and
// closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast marshals payload and offers it to every subscriber without blocking. It returns
// the number of subscribers that received it.
func (h *Hub) Broadcast(name string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	ev := Event{Name: name, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			droppedTotal.Inc()
		}
	}
	return delivered, nil
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
