package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSUpstream bridges hub events over a NATS subject so multiple service
// instances share one event stream.
type NATSUpstream struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger

	mu   sync.RWMutex
	subs []chan Event
}

// NewNATSUpstream connects to NATS and starts forwarding events published on
// the subject to local subscribers.
func NewNATSUpstream(url, subject string, logger *slog.Logger) (*NATSUpstream, error) {
	nc, err := nats.Connect(url, nats.Name("auctiond"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	u := &NATSUpstream{nc: nc, subject: subject, logger: logger}
	if _, err := nc.Subscribe(subject, u.onMessage); err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return u, nil
}

func (u *NATSUpstream) onMessage(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		u.logger.Warn("dropping malformed event", slog.Any("error", err))
		return
	}

	u.mu.RLock()
	subs := make([]chan Event, len(u.subs))
	copy(subs, u.subs)
	u.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Publish sends an event to the subject. It comes back through onMessage on
// every connected instance, including this one.
func (u *NATSUpstream) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := u.nc.Publish(u.subject, data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Subscribe returns a channel fed with every event seen on the subject.
func (u *NATSUpstream) Subscribe() chan Event {
	ch := make(chan Event, 64)
	u.mu.Lock()
	u.subs = append(u.subs, ch)
	u.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel registered with Subscribe and closes it.
func (u *NATSUpstream) Unsubscribe(ch chan Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, sub := range u.subs {
		if sub == ch {
			u.subs = append(u.subs[:i], u.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close drains the connection.
func (u *NATSUpstream) Close() {
	u.nc.Close()
}
