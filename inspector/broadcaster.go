// Package inspector implements rbprof's optional local HTTP+websocket
// introspection surface: a small fan-out broadcaster plus an HTTP server
// exposing bootstrap/reinit state and a live sample feed.
package inspector

import "sync"

// EventType distinguishes the kinds of events the broadcaster fans out.
type EventType string

const (
	// EventSample carries one decoded stack trace.
	EventSample EventType = "sample"
	// EventReinit marks a Trace Getter reinitialization.
	EventReinit EventType = "reinit"
	// EventTerminal marks a Trace Getter reaching its terminal state.
	EventTerminal EventType = "terminal"
)

// Event is a single broadcaster message.
type Event struct {
	Type EventType              `json:"type"`
	PID  int                    `json:"pid"`
	Data map[string]interface{} `json:"data"`
}

// Subscription is one client's filtered view of the event stream.
type Subscription struct {
	PID     int // 0: all pids
	Channel chan Event
}

// Broadcaster fans out Events to every matching Subscription without
// blocking on slow clients.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[*Subscription]bool
	broadcast     chan Event
	register      chan *Subscription
	unregister    chan *Subscription
	done          chan struct{}
}

// NewBroadcaster starts a Broadcaster's event loop goroutine.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscriptions: make(map[*Subscription]bool),
		broadcast:     make(chan Event, 256),
		register:      make(chan *Subscription),
		unregister:    make(chan *Subscription),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case sub := <-b.register:
			b.mu.Lock()
			b.subscriptions[sub] = true
			b.mu.Unlock()

		case sub := <-b.unregister:
			b.mu.Lock()
			if b.subscriptions[sub] {
				delete(b.subscriptions, sub)
				close(sub.Channel)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for sub := range b.subscriptions {
				if sub.PID != 0 && sub.PID != event.PID {
					continue
				}
				select {
				case sub.Channel <- event:
				default:
					// slow client, drop this event rather than block the broadcaster
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for sub := range b.subscriptions {
				close(sub.Channel)
			}
			b.subscriptions = make(map[*Subscription]bool)
			b.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a new Subscription; pid == 0 receives every event.
func (b *Broadcaster) Subscribe(pid int) *Subscription {
	sub := &Subscription{PID: pid, Channel: make(chan Event, 64)}
	b.register <- sub
	return sub
}

// Unsubscribe removes a Subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.unregister <- sub
}

// Broadcast sends an event to every matching subscription, dropping it if
// the broadcaster's internal queue is full.
func (b *Broadcaster) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
	}
}

// Close shuts the broadcaster down and closes every subscription channel.
func (b *Broadcaster) Close() {
	close(b.done)
}

// SubscriptionCount reports the number of active subscriptions.
func (b *Broadcaster) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
