package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestBus() *Bus {
	b := New(nil, 64)
	b.Start()
	return b
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	received := make(chan Event, 1)
	b.Subscribe(ECGPeak, func(e Event) { received <- e })

	b.Publish(ECGPeak, map[string]any{"bpm": 72})

	select {
	case e := <-received:
		assert.Equal(t, ECGPeak, e.Type)
		assert.Equal(t, 72, e.Data["bpm"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriberOnlyReceivesItsOwnType(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	var voiceCount, ecgCount int
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	b.Subscribe(VoiceCommand, func(e Event) {
		mu.Lock()
		voiceCount++
		mu.Unlock()
	})
	b.Subscribe(ECGPeak, func(e Event) {
		mu.Lock()
		ecgCount++
		mu.Unlock()
		done <- struct{}{}
	})

	b.Publish(VoiceCommand, nil)
	b.Publish(VoiceCommand, nil)
	b.Publish(ECGPeak, nil)

	<-done
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, voiceCount)
	assert.Equal(t, 1, ecgCount)
}

func TestStopDrainsQueuedEventsBeforeExit(t *testing.T) {
	b := newTestBus()

	var got []int
	var mu sync.Mutex
	b.Subscribe(VoiceCommand, func(e Event) {
		mu.Lock()
		got = append(got, e.Data["n"].(int))
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		b.Publish(VoiceCommand, map[string]any{"n": i})
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	done := make(chan struct{}, 1)
	b.Subscribe(VoiceError, func(e Event) { panic("boom") })
	b.Subscribe(VoiceError, func(e Event) { done <- struct{}{} })

	b.Publish(VoiceError, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking subscriber blocked its sibling")
	}
}

// TestPerTypeDeliveryIsFIFO is a property test of the ordering invariant:
// events of a given type arrive at a subscriber in the order they were
// published, regardless of how many other types are interleaved.
func TestPerTypeDeliveryIsFIFO(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := newTestBus()
		defer b.Stop()

		n := rapid.IntRange(1, 200).Draw(rt, "n")
		var mu sync.Mutex
		var seen []int
		allDone := make(chan struct{})

		b.Subscribe(ECGPeak, func(e Event) {
			mu.Lock()
			seen = append(seen, e.Data["seq"].(int))
			if len(seen) == n {
				close(allDone)
			}
			mu.Unlock()
		})

		for i := 0; i < n; i++ {
			if i%3 == 0 {
				b.Publish(ECGBPMUpdate, nil)
			}
			b.Publish(ECGPeak, map[string]any{"seq": i})
		}

		select {
		case <-allDone:
		case <-time.After(5 * time.Second):
			rt.Fatal("not all events delivered")
		}

		mu.Lock()
		defer mu.Unlock()
		for i, v := range seen {
			if v != i {
				rt.Fatalf("out of order at index %d: got %d want %d", i, v, i)
			}
		}
	})
}
