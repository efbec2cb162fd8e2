// Package eventbus implements C10 from spec.md §4.10: a set of bounded
// async broadcast queues fanning BlockProcessor/ConsensusManager
// notifications out to REST event-stream subscribers. Subscription
// management is grounded on go-ethereum's event.Feed (as the teacher's
// shared/p2p/feed.go and blockchain/receive_block.go's
// stateNotifier.StateFeed() use it); the bounded, drop-oldest delivery
// policy layered on top resolves spec.md §9's Open Question.
package eventbus

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/r3labs/sse"
)

// Topic names one of the nine broadcast queues spec.md §4.10 lists.
type Topic int

const (
	TopicBlocks Topic = iota
	TopicHead
	TopicReorg
	TopicFinalizedUpdate
	TopicOptimisticUpdate
	TopicAttestation
	TopicContribution
	TopicExit
	TopicFinalization
)

// String renders the topic name used for metric labels and SSE event names.
func (t Topic) String() string {
	switch t {
	case TopicBlocks:
		return "block"
	case TopicHead:
		return "head"
	case TopicReorg:
		return "chain_reorg"
	case TopicFinalizedUpdate:
		return "finalized_checkpoint"
	case TopicOptimisticUpdate:
		return "optimistic_update"
	case TopicAttestation:
		return "attestation"
	case TopicContribution:
		return "contribution_and_proof"
	case TopicExit:
		return "voluntary_exit"
	case TopicFinalization:
		return "finalization"
	default:
		return "unknown"
	}
}

// DefaultBufferSize bounds each subscriber's queue depth.
const DefaultBufferSize = 64

var droppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "event_bus_dropped_total",
		Help: "Count of events dropped from a slow subscriber's queue (drop-oldest policy).",
	},
	[]string{"topic"},
)

// Event is a single broadcast item: a topic tag plus its payload.
type Event struct {
	Topic Topic
	Data  interface{}
}

// Subscription is returned by Subscribe; call Unsubscribe to stop
// receiving events and release the background relay goroutine.
type Subscription interface {
	Unsubscribe()
}

// Bus fans out Events from BlockProcessor/ConsensusManager/
// GossipController to any number of subscribers. Producers never
// block: Publish returns as soon as go-ethereum's event.Feed has handed
// the value to each subscriber's internal relay channel; a dedicated
// goroutine per subscriber then drains that relay into the
// subscriber's bounded public channel, dropping the oldest queued
// event (and incrementing a per-topic counter) if the subscriber falls
// behind, per spec.md §9's recommended policy.
type Bus struct {
	feed event.Feed
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Publish broadcasts an event on topic to every current subscriber.
// Returns the number of subscribers the feed delivered to.
func (b *Bus) Publish(topic Topic, data interface{}) int {
	return b.feed.Send(&Event{Topic: topic, Data: data})
}

type subscription struct {
	unsubscribe func()
}

func (s *subscription) Unsubscribe() {
	s.unsubscribe()
}

// Subscribe returns a channel that receives every Event published on
// topic, buffered to bufferSize (DefaultBufferSize if <= 0). Callers
// must eventually call Unsubscribe to stop the relay goroutine.
func (b *Bus) Subscribe(topic Topic, bufferSize int) (<-chan *Event, Subscription) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	public := make(chan *Event, bufferSize)
	relay := make(chan *Event)
	feedSub := b.feed.Subscribe(relay)

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			feedSub.Unsubscribe()
			close(done)
		})
	}

	go func() {
		defer close(public)
		for {
			select {
			case ev, ok := <-relay:
				if !ok {
					return
				}
				if ev.Topic != topic {
					continue
				}
				deliver(public, ev, topic)
			case err := <-feedSub.Err():
				_ = err
				return
			case <-done:
				return
			}
		}
	}()

	return public, &subscription{unsubscribe: stop}
}

// deliver performs a non-blocking send of ev into public, dropping the
// oldest queued event first if the channel is already full.
func deliver(public chan *Event, ev *Event, topic Topic) {
	select {
	case public <- ev:
		return
	default:
	}

	select {
	case <-public:
		droppedTotal.WithLabelValues(topic.String()).Inc()
	default:
	}

	select {
	case public <- ev:
	default:
		// Another producer raced us and refilled the queue; the event
		// is dropped rather than retried, preserving the non-blocking
		// guarantee for Publish's caller.
		droppedTotal.WithLabelValues(topic.String()).Inc()
	}
}

// SSEEvent encodes ev as a Server-Sent-Events frame for the (externally
// owned) REST event stream, matching the wire shape the teacher's
// apimiddleware SSE handlers expect: an `event:` name plus a JSON `data:`
// payload supplied by the caller (already-marshalled, since payload
// schemas belong to the REST API layer, out of scope per spec.md §1).
func SSEEvent(topic Topic, payload []byte) *sse.Event {
	return &sse.Event{
		Event: []byte(topic.String()),
		Data:  payload,
	}
}
