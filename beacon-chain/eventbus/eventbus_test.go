package eventbus_test

import (
	"testing"
	"time"

	"github.com/lanternlabs/beacon-node/beacon-chain/eventbus"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe_DeliversMatchingTopic(t *testing.T) {
	bus := eventbus.New()
	ch, sub := bus.Subscribe(eventbus.TopicHead, 4)
	defer sub.Unsubscribe()

	bus.Publish(eventbus.TopicReorg, "should not arrive")
	bus.Publish(eventbus.TopicHead, "head changed")

	select {
	case ev := <-ch:
		require.Equal(t, eventbus.TopicHead, ev.Topic)
		require.Equal(t, "head changed", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_DropOldestWhenFull(t *testing.T) {
	bus := eventbus.New()
	ch, sub := bus.Subscribe(eventbus.TopicBlocks, 2)
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.TopicBlocks, i)
	}

	// give the relay goroutine a moment to drain/backpressure.
	time.Sleep(50 * time.Millisecond)

	var got []int
	draining := true
	for draining {
		select {
		case ev := <-ch:
			got = append(got, ev.Data.(int))
		case <-time.After(50 * time.Millisecond):
			draining = false
		}
	}
	require.LessOrEqual(t, len(got), 2)
	if len(got) > 0 {
		require.Equal(t, 4, got[len(got)-1], "newest event should survive drop-oldest")
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	bus := eventbus.New()
	ch, sub := bus.Subscribe(eventbus.TopicExit, 1)
	sub.Unsubscribe()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after unsubscribe")
	}
}

func TestSSEEvent_SetsTopicName(t *testing.T) {
	ev := eventbus.SSEEvent(eventbus.TopicFinalization, []byte(`{"epoch":"1"}`))
	require.Equal(t, "finalization", string(ev.Event))
	require.Equal(t, `{"epoch":"1"}`, string(ev.Data))
}
