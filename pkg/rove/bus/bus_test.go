package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToSubscriber(t *testing.T) {
	b := New(nil)
	ch := b.Subscribe("watcher")

	b.PublishPluginCrashed("weather", errors.New("boom"))

	ev := <-ch
	require.Equal(t, EventPluginCrashed, ev.Kind)
	payload, ok := ev.Payload.(PluginCrashedPayload)
	require.True(t, ok)
	require.Equal(t, "weather", payload.PluginID)
	require.Equal(t, "boom", payload.Error)
}

func TestBus_ShedsEventsWhenSubscriberFull(t *testing.T) {
	b := New(nil)
	b.Subscribe("slow")

	for i := 0; i < subscriberCapacity+10; i++ {
		b.Publish(Event{Kind: EventTaskProgress, Payload: i})
	}
	// Publish must not block even when the channel fills; nothing to
	// assert beyond reaching this line without deadlocking.
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	ch := b.Subscribe("watcher")
	b.Unsubscribe("watcher")

	_, open := <-ch
	require.False(t, open)
}
