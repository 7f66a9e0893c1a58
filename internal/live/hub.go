// Package live fans out entity change notifications to subscribed clients.
// The transaction core publishes an event after every committed write; each
// subscriber gets the current state once (from the store) and then every
// change, which is what keeps all consoles in sync without polling.
package live

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Topic names one observable collection.
type Topic string

const (
	TopicPlayers  Topic = "players"
	TopicTeams    Topic = "teams"
	TopicOwners   Topic = "owners"
	TopicSettings Topic = "settings"
	TopicBids     Topic = "bids"
)

// Event is one change notification. Payload carries the touched record when
// the publisher has it handy; subscribers re-read the collection otherwise.
type Event struct {
	Topic   Topic           `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event kinds.
const (
	KindChanged = "changed"
	KindReset   = "reset"
)

// Upstream is an external broadcaster (e.g. NATS) bridging events between
// instances. Events published there come back through Subscribe on every
// instance, including the publishing one.
type Upstream interface {
	Publish(Event) error
	Subscribe() chan Event
	Unsubscribe(chan Event)
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]struct{} // empty means all topics
}

// Hub is an in-process broadcaster with an optional upstream bridge.
type Hub struct {
	mu       sync.RWMutex
	subs     []*subscriber
	upstream Upstream
	logger   *slog.Logger
}

// New creates a Hub without an upstream; events fan out in-process only.
func New(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

// NewWithUpstream creates a Hub bridged to an upstream broadcaster. Local
// publishes go up; whatever comes down is delivered to local subscribers.
func NewWithUpstream(logger *slog.Logger, upstream Upstream) *Hub {
	h := &Hub{logger: logger, upstream: upstream}
	go func() {
		for ev := range upstream.Subscribe() {
			h.deliver(ev)
		}
	}()
	return h
}

// Subscribe registers a subscriber for the given topics (all topics when none
// are given) and returns its delivery channel.
func (h *Hub) Subscribe(topics ...Topic) chan Event {
	sub := &subscriber{
		ch:     make(chan Event, 16),
		topics: make(map[Topic]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub.ch == ch {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish broadcasts an event. With an upstream configured the event takes
// the round trip through it so every instance sees the same stream.
func (h *Hub) Publish(ev Event) {
	if h.upstream != nil {
		if err := h.upstream.Publish(ev); err != nil {
			h.logger.Error("upstream publish failed, delivering locally",
				slog.String("topic", string(ev.Topic)),
				slog.Any("error", err),
			)
			h.deliver(ev)
		}
		return
	}
	h.deliver(ev)
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	subs := make([]*subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, sub := range subs {
		if len(sub.topics) > 0 {
			if _, ok := sub.topics[ev.Topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher. The
			// client re-syncs from a fresh snapshot on its next read.
		}
	}
}
