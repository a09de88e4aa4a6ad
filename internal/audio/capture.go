// Package audio provides microphone capture, a pre-roll ring buffer, an
// unbounded chunk queue, and resampling for the voice pipeline, built on
// malgo the way the upstream voice assistant drives its capture device.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// candidateRates is the ranked list of sample rates Start tries before
// giving up, mirroring the "preferred -> device default -> ranked set"
// device-selection policy. A rate of 0 asks malgo for the device's own
// default rate.
var candidateRates = []uint32{16000, 0, 48000, 44100, 8000}

// audioChunk is a single capture-callback delivery: an ordered run of
// samples, never mutated after it leaves the callback.
type audioChunk struct {
	samples []float32
}

// ringBuffer is a bounded, mutex-protected, oldest-evicted sample buffer
// used for pre-roll retrieval and background-RMS measurement. Unlike the
// lock-free SPSC buffer the upstream assistant uses for its chunk queue,
// this buffer's occupancy-never-exceeds-capacity invariant is enforced
// under a mutex, per the pipeline's data-model contract for the sample
// ring.
type ringBuffer struct {
	mu       sync.Mutex
	data     []float32
	writePos int
	filled   bool
}

func newRingBuffer(capacitySamples int) *ringBuffer {
	if capacitySamples < 1 {
		capacitySamples = 1
	}
	return &ringBuffer{data: make([]float32, capacitySamples)}
}

// write appends samples, evicting the oldest ones once capacity is
// reached.
func (r *ringBuffer) write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.data)
	for _, s := range samples {
		r.data[r.writePos] = s
		r.writePos = (r.writePos + 1) % n
		if r.writePos == 0 {
			r.filled = true
		}
	}
}

// snapshot returns up to the last count samples in chronological order.
func (r *ringBuffer) snapshot(count int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.data)
	available := r.writePos
	if r.filled {
		available = n
	}
	if count > available {
		count = available
	}
	out := make([]float32, count)
	start := (r.writePos - count + n) % n
	for i := 0; i < count; i++ {
		out[i] = r.data[(start+i)%n]
	}
	return out
}

// chunkQueue is an unbounded, thread-safe FIFO of audio chunks. Push never
// blocks; Pop blocks up to a timeout waiting for an item, matching the
// capture callback's "never blocks on application code" requirement and
// the voice thread's "blocks on chunk-queue pop with bounded timeout"
// requirement.
type chunkQueue struct {
	mu     sync.Mutex
	items  [][]float32
	notify chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{notify: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(samples []float32) {
	q.mu.Lock()
	q.items = append(q.items, samples)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *chunkQueue) pop(timeout time.Duration) []float32 {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		select {
		case <-q.notify:
		case <-time.After(remaining):
			return nil
		}
	}
}

// Capturer opens a microphone input device, resamples to the target rate,
// and fans each chunk out to both the pre-roll ring and the chunk queue.
type Capturer struct {
	log              *log.Logger
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32
	deviceSampleRate uint32
	running          chanFlag
	ring             *ringBuffer
	queue            *chunkQueue
	resampler        *PolyphaseResampler
	recv             chan []float32
	stopOnce         sync.Once
	stopChan         chan struct{}
}

// chanFlag is a tiny atomic-bool substitute kept free of extra imports;
// it backs Pause/Resume without requiring sync/atomic at the call sites.
type chanFlag struct {
	mu  sync.Mutex
	val bool
}

func (f *chanFlag) set(v bool) { f.mu.Lock(); f.val = v; f.mu.Unlock() }
func (f *chanFlag) get() bool  { f.mu.Lock(); defer f.mu.Unlock(); return f.val }

// NewCapturer creates a capturer targeting sampleRate Hz with a pre-roll
// ring sized to preRollMs milliseconds.
func NewCapturer(logger *log.Logger, sampleRate, preRollMs int) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	capacity := sampleRate * preRollMs / 1000
	return &Capturer{
		log:        logger.With("component", "audio"),
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		ring:       newRingBuffer(capacity),
		queue:      newChunkQueue(),
		recv:       make(chan []float32, 256),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start opens the capture device, trying candidate rates in ranked order
// until one succeeds. Returns DeviceUnavailable-flavored error if every
// combination fails.
func (c *Capturer) Start() error {
	var lastErr error
	for _, rate := range candidateRates {
		if err := c.tryOpen(rate); err != nil {
			lastErr = err
			continue
		}
		c.running.set(true)
		go c.processLoop()
		if err := c.device.Start(); err != nil {
			return fmt.Errorf("start capture device: %w", err)
		}
		return nil
	}
	return fmt.Errorf("device unavailable: no capture rate/channel combination succeeded: %w", lastErr)
}

func (c *Capturer) tryOpen(deviceRate uint32) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = deviceRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	callbacks := malgo.DeviceCallbacks{Data: c.onRecv}
	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device at %d Hz: %w", deviceRate, err)
	}
	c.device = device
	c.deviceSampleRate = device.SampleRate()
	if c.deviceSampleRate != c.sampleRate && c.deviceSampleRate > c.sampleRate {
		c.resampler = NewPolyphaseResampler(int(c.deviceSampleRate), int(c.sampleRate))
	}
	return nil
}

// onRecv runs on the driver's own goroutine. It must never block: it
// converts the frame, pushes a copy onto an internal hand-off channel for
// processLoop, and returns.
func (c *Capturer) onRecv(_, pInputSamples []byte, _ uint32) {
	if !c.running.get() {
		return
	}
	samples := bytesToFloat32Copy(pInputSamples)
	select {
	case c.recv <- samples:
	default:
		c.log.Warn("capture hand-off full, dropping chunk")
	}
}

func (c *Capturer) processLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case samples := <-c.recv:
			out := samples
			if c.resampler != nil {
				out = c.resampler.Resample(out)
			} else if c.deviceSampleRate != 0 && c.deviceSampleRate != c.sampleRate {
				out = ResampleInPlace(out, int(c.deviceSampleRate), int(c.sampleRate))
			}
			c.ring.write(out)
			c.queue.push(out)
		}
	}
}

// GetChunk pops the next chunk, blocking up to timeout.
func (c *Capturer) GetChunk(timeout time.Duration) []float32 {
	return c.queue.pop(timeout)
}

// GetPreRoll returns up to ms milliseconds of the most recently captured
// samples.
func (c *Capturer) GetPreRoll(ms int) []float32 {
	count := int(c.sampleRate) * ms / 1000
	return c.ring.snapshot(count)
}

// MeasureBackground drains ms worth of chunks and returns their RMS,
// calibrating VAD and SNR thresholds once at startup.
func (c *Capturer) MeasureBackground(ms int) float64 {
	target := int(c.sampleRate) * ms / 1000
	var sumSquares float64
	var n int
	deadline := time.Now().Add(time.Duration(ms*3) * time.Millisecond)
	for n < target && time.Now().Before(deadline) {
		chunk := c.GetChunk(200 * time.Millisecond)
		if chunk == nil {
			continue
		}
		for _, s := range chunk {
			sumSquares += float64(s) * float64(s)
		}
		n += len(chunk)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(n))
}

// Pause stops samples from being captured without tearing down the
// device, used while feedback audio is being played back in half-duplex
// mode.
func (c *Capturer) Pause() { c.running.set(false) }

// Resume re-enables capture after Pause.
func (c *Capturer) Resume() { c.running.set(true) }

// Stop halts capture and releases the device.
func (c *Capturer) Stop() {
	c.running.set(false)
	c.stopOnce.Do(func() { close(c.stopChan) })
	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Close releases the audio context after Stop.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

func bytesToFloat32Copy(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
