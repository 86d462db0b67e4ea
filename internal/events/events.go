// Package events is the in-process notification bus between the URL index
// and the application that owns the indexed entities.
package events

import (
	"sync"
)

// Kind identifies an event type.
type Kind int

const (
	// KindEntityDeleted is published after an entity has been removed.
	KindEntityDeleted Kind = iota
	// KindEntityUpdating is published before an entity changes. Handlers
	// may veto the change.
	KindEntityUpdating
	// KindIndexFinished is published when an index batch completes.
	KindIndexFinished
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindEntityDeleted:
		return "ENTITY_DELETED"
	case KindEntityUpdating:
		return "ENTITY_UPDATING"
	case KindIndexFinished:
		return "INDEX_FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Event is anything published on a Bus.
type Event interface {
	Kind() Kind
}

// EntityDeleted announces that the entity with ID no longer exists.
type EntityDeleted struct {
	ID string
}

func (EntityDeleted) Kind() Kind { return KindEntityDeleted }

// EntityUpdating announces a pending change to an entity. It is delivered
// by pointer so handlers can call Cancel.
type EntityUpdating struct {
	ID  string
	URL string

	mu        sync.Mutex
	cancelled bool
}

func (*EntityUpdating) Kind() Kind { return KindEntityUpdating }

// Cancel vetoes the update.
func (e *EntityUpdating) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// Cancelled reports whether any handler vetoed the update.
func (e *EntityUpdating) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// IndexFinished reports the outcome of one index batch.
type IndexFinished struct {
	// Count is the number of records in the batch.
	Count int
	// Err is nil on success.
	Err error
}

func (IndexFinished) Kind() Kind { return KindIndexFinished }

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus fans events out to subscribers synchronously, in subscription order.
// The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Kind][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for events of the given kind. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[Kind][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

// Publish delivers ev to every current subscriber of its kind. Handlers run
// on the caller's goroutine; a handler may subscribe or unsubscribe.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Kind()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

func (b *Bus) remove(kind Kind, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
