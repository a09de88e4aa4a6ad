// Package bus implements the typed publish/subscribe event bus that glues
// the ECG and voice pipelines together. It is a direct translation of the
// original threading.Thread/queue.Queue event bus into goroutine/channel
// idioms: a single dispatcher goroutine drains a FIFO queue and fans each
// event out to the subscribers registered for its type. The queue is a
// buffered channel whose depth is fixed in New; it is not unbounded, and
// Publish blocks while it is full.
package bus

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// EventType identifies the kind of event carried by an Event. Values mirror
// the event_bus.EventType enum of the original pipeline.
type EventType string

const (
	ECGPeak           EventType = "ecg_peak"
	ECGBPMUpdate      EventType = "ecg_bpm_update"
	ECGError          EventType = "ecg_error"
	VoiceCommand      EventType = "voice_command"
	VoiceNoise        EventType = "voice_noise"
	VoiceError        EventType = "voice_error"
	CalibrationResult EventType = "calibration_result"
	PlaybackStart     EventType = "playback_start"
	PlaybackComplete  EventType = "playback_complete"
	GameStart         EventType = "game_start"
	GamePause         EventType = "game_pause"
	GameOver          EventType = "game_over"
	SystemShutdown    EventType = "system_shutdown"
)

// Event is an immutable message published on the bus. Data carries
// type-specific fields (e.g. "bpm", "command", "confidence") the way the
// original's Event.data dict did; Go subscribers type-assert the values
// they expect.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	Data      map[string]any
	Timestamp time.Time
}

// Subscriber receives events of the type it was registered for. A
// Subscriber must not block for long: it runs on the bus's single
// dispatcher goroutine and a slow subscriber delays every other
// subscriber of every event type.
type Subscriber func(Event)

type subscription struct {
	id EventType
	fn Subscriber
}

// Bus is an explicitly-constructed event bus (no package-level singleton,
// unlike the Python original — callers wire one instance through
// constructors). It is safe for concurrent use.
type Bus struct {
	log *log.Logger

	mu          sync.Mutex
	subscribers map[EventType][]Subscriber

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// New creates a Bus with the given queue depth. A depth of 0 makes Publish
// block the caller once the dispatcher falls behind; in practice callers
// pick a depth generous enough (hundreds) that this never happens under
// normal load, matching the original's unbounded queue.Queue.
func New(logger *log.Logger, queueDepth int) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		log:         logger.With("component", "bus"),
		subscribers: make(map[EventType][]Subscriber),
		queue:       make(chan Event, queueDepth),
		done:        make(chan struct{}),
	}
}

// Subscribe registers fn to receive every event of the given type.
// Subscriptions are additive; there is no handle-based Unsubscribe because
// no component in this pipeline ever needs to detach mid-run — components
// subscribe once at construction and live for the process lifetime.
func (b *Bus) Subscribe(t EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// Start launches the dispatcher goroutine. Must be called once before the
// first Publish that expects delivery.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.dispatchLoop()
}

// Stop publishes a SystemShutdown event, waits for the dispatcher to drain
// every event already queued ahead of it, then returns once the dispatcher
// goroutine has exited.
func (b *Bus) Stop() {
	b.Publish(SystemShutdown, nil)
	b.wg.Wait()
}

// Publish enqueues an event for asynchronous dispatch. It never blocks the
// caller on subscriber execution; it only blocks if the queue itself is
// full, which a reasonably sized queueDepth avoids in practice.
func (b *Bus) Publish(t EventType, data map[string]any) {
	evt := Event{
		ID:        uuid.New(),
		Type:      t,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case b.queue <- evt:
	case <-b.done:
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for evt := range b.queue {
		b.deliver(evt)
		if evt.Type == SystemShutdown {
			close(b.done)
			return
		}
	}
}

// deliver snapshots the subscriber list under the lock, then invokes each
// subscriber outside the lock so a subscriber calling back into Subscribe
// (e.g. from within a handler) cannot deadlock the bus.
func (b *Bus) deliver(evt Event) {
	b.mu.Lock()
	subs := append([]Subscriber(nil), b.subscribers[evt.Type]...)
	b.mu.Unlock()

	for _, fn := range subs {
		b.invoke(fn, evt)
	}
}

// invoke isolates a subscriber panic so one broken handler never takes
// down the dispatcher or other subscribers of the same event.
func (b *Bus) invoke(fn Subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", "event_type", evt.Type, "panic", r)
		}
	}()
	fn(evt)
}
