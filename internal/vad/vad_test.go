package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testConfig() Config {
	return Config{
		MultLow:     1.8,
		MultHigh:    4.0,
		MinSpeechMs: 150,
		MaxSpeechMs: 1500,
		SilenceMs:   180,
		SampleRate:  16000,
		ChunkSize:   384, // 24ms/chunk
	}
}

func loudChunk(n int) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = 0.9
	}
	return c
}

func quietChunk(n int) []float32 {
	return make([]float32, n)
}

func TestSilenceToRecordingOnLoudChunk(t *testing.T) {
	v := New(testConfig(), nil)
	v.SetBackground(100)
	d := v.ProcessChunk(loudChunk(384))
	assert.Equal(t, Recording, d.State)
	assert.Nil(t, d.Segment)
}

func TestShortSegmentIsDiscarded(t *testing.T) {
	cfg := testConfig()
	v := New(cfg, nil)
	v.SetBackground(100)

	// one loud chunk then immediately enough silence to trigger the
	// silence-threshold cutoff, but below min_speech_frames.
	v.ProcessChunk(loudChunk(384))
	var last Decision
	for i := 0; i < v.silenceFrmsThr+1; i++ {
		last = v.ProcessChunk(quietChunk(384))
		if last.State != Recording {
			break
		}
	}
	assert.Equal(t, Silence, last.State)
	assert.Nil(t, last.Segment)
}

func TestLongEnoughSegmentIsKept(t *testing.T) {
	cfg := testConfig()
	v := New(cfg, nil)
	v.SetBackground(100)

	for i := 0; i < v.minSpeechFrms; i++ {
		v.ProcessChunk(loudChunk(384))
	}
	var last Decision
	for i := 0; i < v.silenceFrmsThr+1; i++ {
		last = v.ProcessChunk(quietChunk(384))
		if last.Segment != nil {
			break
		}
	}
	require.NotNil(t, last.Segment)
	assert.Equal(t, Processing, last.State)
}

func TestProcessingIsTerminalUntilReset(t *testing.T) {
	cfg := testConfig()
	v := New(cfg, nil)
	v.SetBackground(100)
	for i := 0; i < v.minSpeechFrms; i++ {
		v.ProcessChunk(loudChunk(384))
	}
	for i := 0; i < v.silenceFrmsThr+1; i++ {
		v.ProcessChunk(quietChunk(384))
	}
	require.Equal(t, Processing, v.State())

	d := v.ProcessChunk(loudChunk(384))
	assert.Equal(t, Processing, d.State)
	assert.Nil(t, d.Segment)

	v.Reset()
	assert.Equal(t, Silence, v.State())
}

func TestResetClearsBuffer(t *testing.T) {
	v := New(testConfig(), nil)
	v.SetBackground(100)
	v.ProcessChunk(loudChunk(384))
	v.Reset()
	assert.Equal(t, Silence, v.State())
	assert.Empty(t, v.speechBuffer)
}

// TestPreRollIsPrependedOnOnset verifies the pre-roll hand-off contract:
// the segment returned once recording finishes starts with the pre-roll
// samples, not just the chunks seen after onset.
func TestPreRollIsPrependedOnOnset(t *testing.T) {
	cfg := testConfig()
	preRoll := []float32{1, 2, 3}
	v := New(cfg, func(ms int) []float32 { return preRoll })
	v.SetBackground(100)

	for i := 0; i < v.minSpeechFrms; i++ {
		v.ProcessChunk(loudChunk(384))
	}
	var last Decision
	for i := 0; i < v.silenceFrmsThr+1; i++ {
		last = v.ProcessChunk(quietChunk(384))
		if last.Segment != nil {
			break
		}
	}
	require.NotNil(t, last.Segment)
	assert.Equal(t, []float32{1, 2, 3}, last.Segment[:3])
}

// TestMinSpeechBoundary is the exact boundary law from the testable
// properties: MIN_SPEECH_MS-1 frames must be dropped, MIN_SPEECH_MS kept.
func TestMinSpeechBoundary(t *testing.T) {
	run := func(framesOfSpeech int) *Decision {
		v := New(testConfig(), nil)
		v.SetBackground(100)
		for i := 0; i < framesOfSpeech; i++ {
			v.ProcessChunk(loudChunk(384))
		}
		var last Decision
		for i := 0; i < v.silenceFrmsThr+1; i++ {
			last = v.ProcessChunk(quietChunk(384))
			if last.State != Recording {
				break
			}
		}
		return &last
	}

	short := run(1) // well under min frames in this config
	assert.Nil(t, short.Segment)
	assert.Equal(t, Silence, short.State)

	cfg := testConfig()
	v := New(cfg, nil)
	boundary := v.minSpeechFrms
	kept := run(boundary)
	require.NotNil(t, kept.Segment)
}

func TestRandomizedLoudRunsEndInSilenceOrProcessingNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := New(testConfig(), nil)
		v.SetBackground(100)
		n := rapid.IntRange(0, 400).Draw(rt, "loud_chunks")
		for i := 0; i < n; i++ {
			v.ProcessChunk(loudChunk(384))
		}
		for i := 0; i < v.silenceFrmsThr+2; i++ {
			d := v.ProcessChunk(quietChunk(384))
			if d.State != Recording {
				break
			}
		}
		if v.State() != Processing {
			assert.Equal(rt, Silence, v.State())
		}
	})
}
