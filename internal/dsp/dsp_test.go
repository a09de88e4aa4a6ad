package dsp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}

func synthTone(n int, freq, sampleRate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return out
}

func TestPreprocessRemovesDCOffset(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 5.0
	}
	out := Preprocess(samples)
	var sum float64
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-6)
}

// TestPreprocessKeepsRMSTargetOnSecondPass checks that running Preprocess
// on its own output still lands on the 0.1 RMS target. The waveform is
// not compared: a second pass applies pre-emphasis again and changes it.
func TestPreprocessKeepsRMSTargetOnSecondPass(t *testing.T) {
	samples := synthTone(4000, 220, 16000)
	once := Preprocess(samples)
	twice := Preprocess(toFloat32(once))

	var rmsOnce, rmsTwice float64
	for i := range once {
		rmsOnce += once[i] * once[i]
		rmsTwice += twice[i] * twice[i]
	}
	rmsOnce = math.Sqrt(rmsOnce / float64(len(once)))
	rmsTwice = math.Sqrt(rmsTwice / float64(len(twice)))
	assert.InDelta(t, 0.1, rmsOnce, 0.02)
	assert.InDelta(t, 0.1, rmsTwice, 0.02)
}

func TestMFCCShortSegmentReturnsNoFrames(t *testing.T) {
	out := MFCC(Preprocess(make([]float32, 10)), 1024, 384, 13, 26, 80, 7600, 16000, true)
	assert.Nil(t, out)
}

func TestMFCCWithDeltaTriplesColumns(t *testing.T) {
	samples := synthTone(8000, 440, 16000)
	base := MFCC(Preprocess(samples), 512, 256, 13, 26, 80, 7600, 16000, false)
	withDelta := MFCC(Preprocess(samples), 512, 256, 13, 26, 80, 7600, 16000, true)
	require.NotEmpty(t, base)
	require.NotEmpty(t, withDelta)
	assert.Equal(t, len(base[0])*3, len(withDelta[0]))
}

// TestCepstralCoefficientsAreClipped is the |c| <= 50 invariant.
func TestCepstralCoefficientsAreClipped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(256, 1000).Draw(rt, "n")
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = rapid.Float64Range(-1, 1).Draw(rt, "s")
		}
		lpcc := LPCC(samples, 16000, 12, 25, 13)
		for _, frameCoeffs := range lpcc {
			for _, c := range frameCoeffs {
				if math.Abs(c) > 50+1e-9 {
					rt.Fatalf("coefficient %v exceeds clip bound", c)
				}
			}
		}
	})
}

func TestDTWSelfDistanceIsZero(t *testing.T) {
	a := [][]float64{{1, 2}, {2, 3}, {3, 4}, {4, 5}}
	assert.InDelta(t, 0, DTW(a, a, 4), 1e-9)
}

func TestDTWIsSymmetric(t *testing.T) {
	rand.Seed(1)
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 20).Draw(rt, "n")
		m := rapid.IntRange(2, 20).Draw(rt, "m")
		a := randomMatrix(rt, n, 3)
		b := randomMatrix(rt, m, 3)
		d1 := DTW(a, b, 6)
		d2 := DTW(b, a, 6)
		assert.InDelta(t, d1, d2, 1e-6)
	})
}

func randomMatrix(rt *rapid.T, rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for r := range m {
		m[r] = make([]float64, cols)
		for c := range m[r] {
			m[r][c] = rapid.Float64Range(-10, 10).Draw(rt, "v")
		}
	}
	return m
}

func TestSNRClampedToRange(t *testing.T) {
	silence := make([]float64, 4000)
	assert.Equal(t, 0.0, SNR(silence))

	loud := make([]float64, 4000)
	for i := range loud {
		loud[i] = 0.5
	}
	v := SNR(loud)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestMelDistanceOfIdenticalTemplatesIsZero(t *testing.T) {
	samples := synthTone(8000, 300, 16000)
	tmpl := MelTemplate(Preprocess(samples), 512, 256, 26, 80, 7600, 20)
	assert.InDelta(t, 0, MelDistance(tmpl, tmpl), 1e-9)
}

func TestStatsOutputIsFixedLength(t *testing.T) {
	samples := synthTone(8000, 300, 16000)
	mfcc := MFCC(Preprocess(samples), 512, 256, 13, 26, 80, 7600, 16000, false)
	stats := Stats(mfcc)
	assert.Equal(t, StatsSegments*13*2, len(stats))
}
