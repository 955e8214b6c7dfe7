package client

import "sync"

// EventKind identifies what happened on the session
type EventKind int

const (
	EventChatMessage EventKind = iota
	EventUserJoined
	EventUserLeft
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventChatMessage:
		return "chat_message"
	case EventUserJoined:
		return "user_joined"
	case EventUserLeft:
		return "user_left"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is delivered to observers. Text is set for chat messages, Err for connection loss.
type Event struct {
	Kind     EventKind
	Username string
	Text     string
	Err      error
}

// Handler receives events on the session's listener goroutine
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// observers holds handlers per kind in subscription order
type observers struct {
	mu     sync.RWMutex
	nextID int
	byKind map[EventKind][]subscription
}

func (o *observers) subscribe(kind EventKind, fn Handler) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.byKind == nil {
		o.byKind = make(map[EventKind][]subscription)
	}
	o.nextID++
	id := o.nextID
	o.byKind[kind] = append(o.byKind[kind], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { o.unsubscribe(kind, id) })
	}
}

func (o *observers) unsubscribe(kind EventKind, id int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	subs := o.byKind[kind]
	for i, s := range subs {
		if s.id == id {
			// Copy so an in-flight emit keeps iterating its own snapshot
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			o.byKind[kind] = append(next, subs[i+1:]...)
			return
		}
	}
}

func (o *observers) emit(ev Event) {
	o.mu.RLock()
	subs := o.byKind[ev.Kind]
	o.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
