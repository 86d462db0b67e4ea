package index

import (
	"sync"

	"github.com/Aman-CERP/urlindex/internal/events"
)

// Deleter is the part of a Coalescer the bridge drives.
type Deleter interface {
	EnqueueDelete(id string)
}

// Bridge turns entity lifecycle notifications into index work. Deletions are
// queued for de-indexing. Pending updates are not intercepted; changed
// entities reach the index through EnqueueIndex by their owner.
type Bridge struct {
	once        sync.Once
	unsubscribe func()
}

// NewBridge subscribes to bus and forwards EntityDeleted ids to d.
func NewBridge(bus *events.Bus, d Deleter) *Bridge {
	unsub := bus.Subscribe(events.KindEntityDeleted, func(ev events.Event) {
		if del, ok := ev.(events.EntityDeleted); ok {
			d.EnqueueDelete(del.ID)
		}
	})
	return &Bridge{unsubscribe: unsub}
}

// Close removes the subscription.
func (b *Bridge) Close() {
	b.once.Do(b.unsubscribe)
}
