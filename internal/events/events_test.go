package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishFansOutInSubscriptionOrder(t *testing.T) {
	// Given: two subscribers for deletions and one for index completion
	bus := NewBus()
	var got []string
	bus.Subscribe(KindEntityDeleted, func(ev Event) { got = append(got, "a:"+ev.(EntityDeleted).ID) })
	bus.Subscribe(KindEntityDeleted, func(ev Event) { got = append(got, "b:"+ev.(EntityDeleted).ID) })
	bus.Subscribe(KindIndexFinished, func(Event) { got = append(got, "finished") })

	// When: publishing a deletion
	bus.Publish(EntityDeleted{ID: "req-1"})

	// Then: only deletion handlers ran, in order
	assert.Equal(t, []string{"a:req-1", "b:req-1"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(KindIndexFinished, func(Event) { calls++ })
	require.Equal(t, 1, bus.Subscribers(KindIndexFinished))

	unsubscribe()
	unsubscribe()

	bus.Publish(IndexFinished{Count: 1})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Subscribers(KindIndexFinished))
}

func TestBus_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	calls := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(KindEntityDeleted, func(Event) {
		calls++
		unsubscribe()
	})

	bus.Publish(EntityDeleted{ID: "x"})
	bus.Publish(EntityDeleted{ID: "y"})

	assert.Equal(t, 1, calls)
}

func TestBus_ZeroValueAndNilEvent(t *testing.T) {
	var bus Bus
	bus.Publish(nil)
	bus.Publish(EntityDeleted{ID: "x"})

	called := false
	bus.Subscribe(KindEntityDeleted, func(Event) { called = true })
	bus.Publish(EntityDeleted{ID: "x"})
	assert.True(t, called)
}

func TestEntityUpdating_Cancel(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(KindEntityUpdating, func(ev Event) { ev.(*EntityUpdating).Cancel() })

	ev := &EntityUpdating{ID: "req-1", URL: "https://x.com"}
	bus.Publish(ev)

	assert.True(t, ev.Cancelled())
}

func TestIndexFinished_CarriesError(t *testing.T) {
	bus := NewBus()
	var got IndexFinished
	bus.Subscribe(KindIndexFinished, func(ev Event) { got = ev.(IndexFinished) })

	bus.Publish(IndexFinished{Count: 3, Err: errors.New("store closed")})

	assert.Equal(t, 3, got.Count)
	assert.EqualError(t, got.Err, "store closed")
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "ENTITY_DELETED", KindEntityDeleted.String())
	assert.Equal(t, "UNKNOWN", Kind(42).String())
}
