package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/rolling"
)

// Hub defaults
const (
	DefaultSubscriberBuffer = 256
	DefaultGraphHistory     = 60
)

// Hub delivers events to every subscriber in publish order. A subscriber
// whose buffer is full is dropped rather than skipped, so a connected
// subscriber never misses an event.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
	graph  *rolling.Buffer[float32]
	log    *slog.Logger
}

// NewHub creates a hub. graphSize bounds the voice graph history replayed to
// new subscribers; it starts filled with zeros.
func NewHub(buffer, graphSize int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if graphSize <= 0 {
		graphSize = DefaultGraphHistory
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		graph:  rolling.NewFilled[float32](0, graphSize),
		log:    log,
	}
}

// Subscribe registers a subscriber. The first event is the recent voice
// graph history. The returned func unsubscribes; the channel is closed when
// the subscriber leaves or is dropped.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, h.buffer)
	ch <- Event{Type: TypeGraphHistory, Pipeline: "voice", Time: time.Now(), History: h.graph.Items()}
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Publish sends ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type == TypeVoiceGraphScore && ev.Score != nil {
		h.graph.Append(*ev.Score)
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn("dropping slow subscriber", "subscriber", id, "buffered", len(ch))
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// GraphHistory returns the recent voice graph scores, oldest first.
func (h *Hub) GraphHistory() []float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph.Items()
}
