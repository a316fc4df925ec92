package service

import "sync"

// Archive event actions.
const (
	ActionSeeding  = "seeding"
	ActionProgress = "progress"
	ActionWritten  = "written"
	ActionFailed   = "failed"
)

// Event reports progress of an archive build.
type Event struct {
	Archive string `json:"archive" doc:"Archive name" example:"streets.pmtiles"`
	Action  string `json:"action" enum:"seeding,progress,written,failed" doc:"What happened"`
	Done    int64  `json:"done,omitempty" doc:"Tiles rendered so far"`
	Total   int64  `json:"total,omitempty" doc:"Tiles to render"`
	Error   string `json:"error,omitempty" doc:"Failure reason"`
}

// EventBus fans events out to subscribers. Slow subscribers miss events
// rather than blocking publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
