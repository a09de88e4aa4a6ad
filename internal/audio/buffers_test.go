package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	r := newRingBuffer(4)
	r.write([]float32{1, 2, 3, 4, 5, 6})
	got := r.snapshot(4)
	assert.Equal(t, []float32{3, 4, 5, 6}, got)
}

func TestRingBufferSnapshotBeforeFull(t *testing.T) {
	r := newRingBuffer(10)
	r.write([]float32{1, 2, 3})
	assert.Equal(t, []float32{1, 2, 3}, r.snapshot(10))
	assert.Equal(t, []float32{2, 3}, r.snapshot(2))
}

func TestChunkQueueFIFO(t *testing.T) {
	q := newChunkQueue()
	q.push([]float32{1})
	q.push([]float32{2})
	q.push([]float32{3})

	require.Equal(t, []float32{1}, q.pop(time.Second))
	require.Equal(t, []float32{2}, q.pop(time.Second))
	require.Equal(t, []float32{3}, q.pop(time.Second))
}

func TestChunkQueuePopTimesOut(t *testing.T) {
	q := newChunkQueue()
	start := time.Now()
	got := q.pop(20 * time.Millisecond)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestChunkQueueWakesWaiter(t *testing.T) {
	q := newChunkQueue()
	done := make(chan []float32, 1)
	go func() { done <- q.pop(time.Second) }()

	time.Sleep(10 * time.Millisecond)
	q.push([]float32{9, 9})

	select {
	case got := <-done:
		assert.Equal(t, []float32{9, 9}, got)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestResamplerIdentity(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, in, r.Resample(in))
}

func TestResamplerUpsampleDoublesLength(t *testing.T) {
	in := make([]float32, 100)
	out := ResampleInPlace(in, 8000, 16000)
	assert.InDelta(t, 200, len(out), 2)
}

func TestPolyphaseResamplerDownsampleHalvesLength(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(i % 7)
	}
	out := ResamplePolyphase(in, 48000, 16000)
	assert.InDelta(t, 160, len(out), 2)
}
