package executor

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

const subscriberBuffer = 16

// Filter selects inbound messages. Empty fields match anything.
type Filter struct {
	Target string
	Names  []string
	Type   string
}

// Matches reports whether msg passes the filter.
func (f Filter) Matches(msg contracts.Message) bool {
	if f.Target != "" && msg.Target != f.Target {
		return false
	}
	if len(f.Names) > 0 && !slices.Contains(f.Names, msg.Name) {
		return false
	}
	if f.Type != "" && msg.Type != f.Type {
		return false
	}
	return true
}

type subscription struct {
	filter Filter
	ch     chan contracts.Message
}

// Demux is the single inbound message channel of a page. Messages from
// foreign origins are dropped; the rest fan out to matching subscribers.
type Demux struct {
	origin string
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

// NewDemux creates a demultiplexer trusting only origin.
func NewDemux(origin string) *Demux {
	return &Demux{
		origin: origin,
		logger: slog.Default().With("component", "demux"),
		subs:   make(map[int]*subscription),
	}
}

// Origin returns the trusted origin.
func (d *Demux) Origin() string { return d.origin }

// Subscribe registers a listener. The returned cancel func stops listening
// and closes the channel; it is safe to call more than once.
func (d *Demux) Subscribe(f Filter) (<-chan contracts.Message, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	sub := &subscription{filter: f, ch: make(chan contracts.Message, subscriberBuffer)}
	d.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.subs, id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Dispatch delivers msg and returns how many subscribers received it.
func (d *Demux) Dispatch(msg contracts.Message) int {
	if msg.Origin != d.origin {
		d.logger.Debug("dropping message from foreign origin", "origin", msg.Origin)
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delivered := 0
	for _, sub := range d.subs {
		if !sub.filter.Matches(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
			delivered++
		default:
			d.logger.Warn("subscriber buffer full; message dropped", "name", msg.Name, "type", msg.Type)
		}
	}
	return delivered
}

// DispatchRaw parses a raw page message and dispatches it.
func (d *Demux) DispatchRaw(origin string, raw []byte) (int, error) {
	msg, err := contracts.ParseMessage(origin, raw)
	if err != nil {
		return 0, err
	}
	return d.Dispatch(msg), nil
}

// Subscribers returns the number of live subscriptions.
func (d *Demux) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
