package dsp

import "math"

// StatsSegments is the number of equal time-segments the segmental
// statistics feature splits a segment's MFCC matrix into.
const StatsSegments = 4

// Stats computes a fixed-length descriptor from an MFCC matrix (without
// deltas): the segment is split into StatsSegments equal time chunks and
// the per-chunk mean and standard deviation of each coefficient are
// concatenated. Used by the ensemble voter as an auxiliary confidence
// signal when two methods tie, not as a primary matcher method.
func Stats(mfcc [][]float64) []float64 {
	if len(mfcc) == 0 {
		return nil
	}
	cols := len(mfcc[0])
	segLen := len(mfcc) / StatsSegments
	if segLen == 0 {
		segLen = len(mfcc)
	}

	out := make([]float64, 0, StatsSegments*cols*2)
	for seg := 0; seg < StatsSegments; seg++ {
		start := seg * segLen
		end := start + segLen
		if seg == StatsSegments-1 {
			end = len(mfcc)
		}
		if start >= len(mfcc) {
			out = append(out, make([]float64, cols*2)...)
			continue
		}
		if end > len(mfcc) {
			end = len(mfcc)
		}
		rows := mfcc[start:end]

		means := make([]float64, cols)
		for _, row := range rows {
			for c, v := range row {
				means[c] += v
			}
		}
		for c := range means {
			means[c] /= float64(len(rows))
		}

		stds := make([]float64, cols)
		for _, row := range rows {
			for c, v := range row {
				d := v - means[c]
				stds[c] += d * d
			}
		}
		for c := range stds {
			stds[c] = math.Sqrt(stds[c] / float64(len(rows)))
		}

		out = append(out, means...)
		out = append(out, stds...)
	}
	return out
}
