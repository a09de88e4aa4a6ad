package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// playbackRingSize sized for several seconds of feedback cues at typical
// device rates; feedback cues (short confirmation/error tones) are brief,
// unlike TTS output, so this is generous headroom rather than a tight fit.
const playbackRingSize = 262144

// Cue is a short feedback sound (e.g. a calibration-success chime or an
// error buzz) queued for playback.
type Cue struct {
	Samples    []float32
	SampleRate int
}

// playbackRing is a lock-free SPSC ring buffer, kept in the upstream
// assistant's style since playback callback latency is just as
// performance-sensitive here as it was there.
type playbackRing struct {
	samples [playbackRingSize]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (rb *playbackRing) push(samples []float32) int {
	head := rb.head.Load()
	tail := rb.tail.Load()
	available := playbackRingSize - int(head-tail)
	toWrite := len(samples)
	if toWrite > available {
		toWrite = available
	}
	for i := 0; i < toWrite; i++ {
		rb.samples[(head+uint64(i))%playbackRingSize] = samples[i]
	}
	rb.head.Add(uint64(toWrite))
	return toWrite
}

func (rb *playbackRing) pop() (float32, bool) {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return 0, false
	}
	sample := rb.samples[tail%playbackRingSize]
	rb.tail.Add(1)
	return sample, true
}

func (rb *playbackRing) isEmpty() bool { return rb.head.Load() == rb.tail.Load() }
func (rb *playbackRing) clear()        { rb.tail.Store(rb.head.Load()) }

// PublishFunc emits a bus event; the player uses it for PlaybackStart and
// PlaybackComplete rather than importing the bus package directly, so the
// audio package stays free of a dependency on bus.
type PublishFunc func(eventType string, data map[string]any)

// Player drives a persistent playback device for short feedback cues and
// announces start/completion on the event bus.
type Player struct {
	log              *log.Logger
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	deviceSampleRate uint32
	interrupt        atomic.Bool
	playing          atomic.Bool
	ring             *playbackRing
	mu               sync.Mutex
	completeChan     chan struct{}
	publish          PublishFunc
}

// NewPlayer opens a persistent playback device. publish is called with
// "playback_start"/"playback_complete" around each Play call; pass nil to
// disable bus notifications (e.g. in tests).
func NewPlayer(logger *log.Logger, publish PublishFunc) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Player{
		log:          logger.With("component", "audio.playback"),
		ctx:          ctx,
		ring:         &playbackRing{},
		completeChan: make(chan struct{}, 1),
		publish:      publish,
	}
	if err := p.initDevice(); err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return p, nil
}

func (p *Player) initDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.PeriodSizeInMilliseconds = 50

	onSend := func(pOutputSample, _ []byte, framecount uint32) {
		interrupted := p.interrupt.Load()
		for i := 0; i < int(framecount); i++ {
			var sample float32
			if !interrupted {
				if s, ok := p.ring.pop(); ok {
					sample = s
				}
			}
			binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(sample))
		}
		if p.ring.isEmpty() || interrupted {
			if p.playing.CompareAndSwap(true, false) {
				select {
				case p.completeChan <- struct{}{}:
				default:
				}
			}
		}
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	p.deviceSampleRate = device.SampleRate()
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}
	p.device = device
	return nil
}

// Play queues a cue and blocks until it finishes or is interrupted,
// publishing PlaybackStart before queuing and PlaybackComplete after.
func (p *Player) Play(cue Cue) error {
	samples := cue.Samples
	if cue.SampleRate != 0 && cue.SampleRate != int(p.deviceSampleRate) {
		samples = ResampleInPlace(samples, cue.SampleRate, int(p.deviceSampleRate))
	}

	p.interrupt.Store(false)
	p.emit("playback_start", nil)

	p.mu.Lock()
	written := p.ring.push(samples)
	p.mu.Unlock()
	if written < len(samples) {
		p.log.Warn("playback buffer overflow", "dropped", len(samples)-written)
	}
	p.playing.Store(true)

	timeout := time.Duration(len(samples)/int(p.deviceSampleRate)+2) * time.Second
	deadline := time.After(timeout)
	for p.playing.Load() {
		select {
		case <-p.completeChan:
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			p.ring.clear()
			p.playing.Store(false)
		}
	}
	p.emit("playback_complete", nil)
	return nil
}

// Interrupt stops playback of the current cue, used when the pipeline
// needs the speaker free immediately (e.g. a new game event).
func (p *Player) Interrupt() {
	p.interrupt.Store(true)
	p.ring.clear()
	p.playing.Store(false)
	select {
	case p.completeChan <- struct{}{}:
	default:
	}
}

func (p *Player) emit(eventType string, data map[string]any) {
	if p.publish != nil {
		p.publish(eventType, data)
	}
}

// Close releases all playback resources.
func (p *Player) Close() {
	p.Interrupt()
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
