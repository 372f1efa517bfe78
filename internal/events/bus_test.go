package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return NewBus(zerolog.Nop())
}

func TestPublishDeliversToTypeSubscribers(t *testing.T) {
	bus := testBus()

	var got []Event
	bus.Subscribe(MessageNew, "collector", func(_ context.Context, evt Event) {
		got = append(got, evt)
	})
	bus.Subscribe(FriendAccepted, "other", func(_ context.Context, evt Event) {
		t.Errorf("friend.accepted subscriber must not see %s", evt.Type)
	})

	evt := New(MessageNew, "claw_a", []string{"claw_b"}, MessagePayload{MessageID: "m1", SenderID: "claw_a"})
	bus.Publish(context.Background(), evt)

	require.Len(t, got, 1)
	assert.Equal(t, evt.ID, got[0].ID)
	assert.Equal(t, MessageNew, got[0].Type)
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	bus := testBus()

	var seen []string
	bus.SubscribeAll("order", func(_ context.Context, evt Event) {
		seen = append(seen, evt.ID)
	})

	var published []string
	for i := 0; i < 20; i++ {
		evt := New(HeartbeatReceived, "claw_a", nil, nil)
		published = append(published, evt.ID)
		bus.Publish(context.Background(), evt)
	}

	assert.Equal(t, published, seen, "delivery order must follow publication order")
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := testBus()

	var panics int
	bus.SetPanicHook(func(Event, interface{}) { panics++ })

	bus.Subscribe(PearlEndorsed, "bomb", func(context.Context, Event) {
		panic("boom")
	})
	var delivered int
	bus.Subscribe(PearlEndorsed, "survivor", func(context.Context, Event) {
		delivered++
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), New(PearlEndorsed, "claw_a", nil, nil))
		bus.Publish(context.Background(), New(PearlEndorsed, "claw_a", nil, nil))
	})

	assert.Equal(t, 2, delivered, "sibling subscriber must receive every event")
	assert.Equal(t, 2, panics)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := testBus()

	var calls int
	unsub := bus.Subscribe(GroupJoined, "once", func(context.Context, Event) { calls++ })

	bus.Publish(context.Background(), New(GroupJoined, "claw_a", nil, nil))
	unsub()
	bus.Publish(context.Background(), New(GroupJoined, "claw_a", nil, nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := testBus()

	var types []Type
	bus.SubscribeAll("tap", func(_ context.Context, evt Event) {
		types = append(types, evt.Type)
	})

	bus.Publish(context.Background(), New(MessageNew, "a", nil, nil))
	bus.Publish(context.Background(), New(LayerChanged, "a", nil, nil))
	bus.Publish(context.Background(), New(ThreadContributionAdded, "a", nil, nil))

	assert.Equal(t, []Type{MessageNew, LayerChanged, ThreadContributionAdded}, types)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("message.new"))
	assert.True(t, Known("relationship.layer_changed"))
	assert.False(t, Known("message.unknown"))
	assert.False(t, Known(""))
}
