package slots

import (
	"time"

	"github.com/lanternlabs/beacon-node/consensus-types/primitives"
)

// Ticker ticks with every new slot.
type Ticker interface {
	C() <-chan primitives.Slot
	Done()
}

// SlotTicker is a ticker that ticks every single slot, managed by the
// genesis time and seconds-per-slot constant, as used by SlotScheduler's
// slot loop (spec.md §4.8).
type SlotTicker struct {
	c    chan primitives.Slot
	done chan struct{}
}

// C returns the ticker's channel of slots.
func (s *SlotTicker) C() <-chan primitives.Slot {
	return s.c
}

// Done closes the ticker's done channel, stopping its goroutine.
func (s *SlotTicker) Done() {
	close(s.done)
}

// NewSlotTicker starts a SlotTicker ticking at every slot boundary
// measured from genesisTime.
func NewSlotTicker(genesisTime time.Time, secondsPerSlot uint64) *SlotTicker {
	ticker := &SlotTicker{
		c:    make(chan primitives.Slot),
		done: make(chan struct{}),
	}
	ticker.start(genesisTime, secondsPerSlot, time.Since, time.Until, time.After)
	return ticker
}

// NewSlotTickerWithOffset starts a SlotTicker that ticks `offset` after
// every slot boundary, used by the onSlotEnd aggregate-propagation wait
// (spec.md §4.8 step 1).
func NewSlotTickerWithOffset(genesisTime time.Time, offset time.Duration, secondsPerSlot uint64) *SlotTicker {
	ticker := &SlotTicker{
		c:    make(chan primitives.Slot),
		done: make(chan struct{}),
	}
	offsetGenesis := genesisTime.Add(offset)
	ticker.start(offsetGenesis, secondsPerSlot, time.Since, time.Until, time.After)
	return ticker
}

// NewSlotTickerWithIntervals starts a ticker that fires at each given
// duration offset within every slot, in ascending order; used by the
// second-loop's sub-slot checkpoints.
func NewSlotTickerWithIntervals(genesisTime time.Time, intervals []time.Duration) *SlotTicker {
	if genesisTime.IsZero() {
		panic("zero genesis time")
	}
	if len(intervals) == 0 {
		panic("at least one interval must be provided")
	}
	last := time.Duration(0)
	for _, iv := range intervals {
		if iv < last {
			panic("intervals must be non-decreasing")
		}
		last = iv
	}
	ticker := &SlotTicker{
		c:    make(chan primitives.Slot),
		done: make(chan struct{}),
	}
	ticker.startWithIntervals(genesisTime, intervals, time.Since, time.Until, time.After)
	return ticker
}

type (
	sinceFunc func(time.Time) time.Duration
	untilFunc func(time.Time) time.Duration
	afterFunc func(time.Duration) <-chan time.Time
)

func (s *SlotTicker) start(genesisTime time.Time, secondsPerSlot uint64, since sinceFunc, until untilFunc, after afterFunc) {
	d := time.Duration(secondsPerSlot) * time.Second
	go func() {
		sinceGenesis := since(genesisTime)
		nextTickTime := genesisTime
		slot := primitives.Slot(0)
		if sinceGenesis >= d {
			slot = primitives.Slot(sinceGenesis/d) + 1
			nextTickTime = genesisTime.Add(d * time.Duration(slot))
		}

		for {
			waitTime := until(nextTickTime)
			select {
			case <-after(waitTime):
				select {
				case s.c <- slot:
				case <-s.done:
					return
				}
				slot++
				nextTickTime = nextTickTime.Add(d)
			case <-s.done:
				return
			}
		}
	}()
}

func (s *SlotTicker) startWithIntervals(genesisTime time.Time, intervals []time.Duration, since sinceFunc, until untilFunc, after afterFunc) {
	go func() {
		if since(genesisTime) < 0 {
			select {
			case <-after(until(genesisTime)):
			case <-s.done:
				return
			}
		}

		slotDuration := intervals[len(intervals)-1]
		for _, iv := range intervals {
			if iv > slotDuration {
				slotDuration = iv
			}
		}

		slot := primitives.Slot(0)
		slotStart := genesisTime
		for {
			for _, offset := range intervals {
				waitTime := until(slotStart.Add(offset))
				select {
				case <-after(waitTime):
					select {
					case s.c <- slot:
					case <-s.done:
						return
					}
				case <-s.done:
					return
				}
			}
			slot++
			slotStart = slotStart.Add(slotDuration)
		}
	}()
}
