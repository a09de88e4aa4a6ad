package dsp

import (
	"math"
	"sort"
)

const snrFrameLen = 256

// SNR divides the segment into short frames, takes the 40th-percentile
// frame energy as the noise floor and the mean of frames above that
// floor as the signal level, and reports 10*log10(signal/noise) in dB,
// clamped to [0,100].
func SNR(preprocessed []float64) float64 {
	n := len(preprocessed) / snrFrameLen
	if n == 0 {
		return 0
	}
	energies := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, s := range preprocessed[i*snrFrameLen : (i+1)*snrFrameLen] {
			sum += s * s
		}
		energies[i] = sum / snrFrameLen
	}

	sorted := append([]float64(nil), energies...)
	sort.Float64s(sorted)
	noiseFloor := percentile(sorted, 40)

	var signalSum float64
	var signalCount int
	for _, e := range energies {
		if e > noiseFloor {
			signalSum += e
			signalCount++
		}
	}
	if signalCount == 0 {
		return 0
	}
	signal := signalSum / float64(signalCount)

	if noiseFloor <= 1e-12 {
		return 100
	}
	if signal <= noiseFloor {
		return 0
	}
	db := 10 * math.Log10(signal/noiseFloor)
	if db > 100 {
		return 100
	}
	if db < 0 {
		return 0
	}
	return db
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
