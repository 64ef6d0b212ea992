// Package notify is a typed publish/subscribe registry for session events.
//
// Delivery is synchronous: Publish calls every subscriber of the kind, in
// subscription order, on the publishing goroutine. Subscribing to a kind
// with a replay source first delivers the current state, so a late
// subscriber sees the same sequence as one that was there from the start.
package notify

import (
	"sync"
)

// Kind names an event.
type Kind string

const (
	ConnectionAdded   Kind = "connection-added"
	ConnectionRemoved Kind = "connection-removed"
)

// ReplaySource returns the payloads to deliver to a new subscriber.
type ReplaySource[T any] func() []T

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Notifier delivers payloads of type T.
type Notifier[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Kind][]subscription[T]
	replay map[Kind]ReplaySource[T]
}

// New creates an empty Notifier.
func New[T any]() *Notifier[T] {
	return &Notifier[T]{
		subs:   make(map[Kind][]subscription[T]),
		replay: make(map[Kind]ReplaySource[T]),
	}
}

// SetReplay installs the catch-up source for kind.
func (n *Notifier[T]) SetReplay(kind Kind, src ReplaySource[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replay[kind] = src
}

// Subscribe registers fn for kind and returns a func that removes it.
// If kind has a replay source, fn is called once per replayed payload
// before Subscribe returns. Registration and the replay snapshot happen
// under the same lock as PublishWith's commit, so every payload reaches fn
// exactly once, either replayed or published. Calling the returned func
// more than once is harmless.
func (n *Notifier[T]) Subscribe(kind Kind, fn func(T)) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[kind] = append(n.subs[kind], subscription[T]{id: id, fn: fn})
	var replayed []T
	if src := n.replay[kind]; src != nil {
		replayed = src()
	}
	n.mu.Unlock()

	for _, payload := range replayed {
		fn(payload)
	}

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(kind, id) })
	}
}

// Publish delivers payload to every current subscriber of kind.
// Subscribers may subscribe or unsubscribe from inside their callback;
// the change applies to the next Publish.
func (n *Notifier[T]) Publish(kind Kind, payload T) {
	n.PublishWith(kind, payload, nil)
}

// PublishWith runs commit, then delivers payload to the subscribers present
// at that moment. commit runs under the notifier lock and should make the
// payload visible to (or hide it from) the replay source, so a concurrent
// Subscribe sees it through exactly one path. commit must not call back
// into the notifier.
func (n *Notifier[T]) PublishWith(kind Kind, payload T, commit func()) {
	n.mu.Lock()
	if commit != nil {
		commit()
	}
	subs := append([]subscription[T](nil), n.subs[kind]...)
	n.mu.Unlock()

	for _, s := range subs {
		s.fn(payload)
	}
}

// Subscribers returns the number of subscribers of kind.
func (n *Notifier[T]) Subscribers(kind Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[kind])
}

func (n *Notifier[T]) remove(kind Kind, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[kind]
	for i, s := range list {
		if s.id == id {
			n.subs[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Event pairs a payload with its kind, for channel subscribers.
type Event[T any] struct {
	Kind    Kind
	Payload T
}

// Stream subscribes a buffered channel to the given kinds. Sends never
// block: a slow reader loses events rather than stalling the publisher.
// Replayed payloads that do not fit the buffer are dropped the same way.
func (n *Notifier[T]) Stream(buffer int, kinds ...Kind) (<-chan Event[T], func()) {
	ch := make(chan Event[T], buffer)
	var mu sync.Mutex
	closed := false

	var unsubs []func()
	for _, kind := range kinds {
		kind := kind
		unsubs = append(unsubs, n.Subscribe(kind, func(p T) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- Event[T]{Kind: kind, Payload: p}:
			default:
			}
		}))
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}
