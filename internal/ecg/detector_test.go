package ecg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBeats synthesizes a display/MWI pair with a sharp three-sample
// bump every period samples, simulating a confirmed R-wave at a fixed
// rate without routing through the filter chain.
func buildBeats(totalLen, period int) (display, mwi []float64) {
	display = make([]float64, totalLen)
	mwi = make([]float64, totalLen)
	for i := range display {
		display[i] = 130
	}
	for k := period; k < totalLen; k += period {
		display[k] = 170
		mwi[k-1] = 50
		mwi[k] = 200
		if k+1 < totalLen {
			mwi[k+1] = 50
		}
	}
	return display, mwi
}

func TestDetectorEmitsOnePeakPerBeatOnSquareWave(t *testing.T) {
	const fs = 500.0
	const period = 500 // exactly 1s between beats -> 60 BPM
	display, mwi := buildBeats(period*5+50, period)

	d := NewDetector(fs)
	peaks := d.Process(display, mwi)

	require.Len(t, peaks, 5)
	for _, p := range peaks[1:] {
		assert.True(t, p.BPMUpdated)
		assert.InDelta(t, 60.0, p.BPM, 1.0)
	}
}

func TestRefractoryRejectsPeakTooCloseToPrevious(t *testing.T) {
	const fs = 500.0
	totalLen := 600
	display := make([]float64, totalLen)
	mwi := make([]float64, totalLen)
	for i := range display {
		display[i] = 130
	}
	// Confirmed beat at 200, a second bump only 0.1s later (50 samples,
	// well inside the 0.25s refractory period) must not produce a peak.
	for _, k := range []int{200, 250} {
		display[k] = 170
		mwi[k-1] = 50
		mwi[k] = 200
		mwi[k+1] = 50
	}

	d := NewDetector(fs)
	peaks := d.Process(display, mwi)
	require.Len(t, peaks, 1)
}

func TestDetectorNeverPanicsOnShortInput(t *testing.T) {
	d := NewDetector(500)
	assert.NotPanics(t, func() {
		peaks := d.Process([]float64{1, 2}, []float64{1, 2})
		assert.Empty(t, peaks)
	})
}

func TestDetectorDeclinesPeakBelowBaselineOffset(t *testing.T) {
	const fs = 500.0
	totalLen := 600
	display := make([]float64, totalLen)
	mwi := make([]float64, totalLen)
	for i := range display {
		display[i] = 130
	}
	// MWI looks like a candidate peak but the display signal never rises
	// above signal_mean+delta, so back-search must decline to confirm.
	k := 300
	mwi[k-1] = 50
	mwi[k] = 200
	mwi[k+1] = 50

	d := NewDetector(fs)
	peaks := d.Process(display, mwi)
	assert.Empty(t, peaks)
}

func TestFloatRingLastNeverOverrunsAvailableData(t *testing.T) {
	r := newFloatRing(10)
	r.push(1)
	r.push(2)
	got := r.last(5)
	assert.Equal(t, []float64{1, 2}, got)
}
