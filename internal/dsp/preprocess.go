// Package dsp implements the feature-extraction front end shared by every
// matcher method: preprocessing, MFCC+Δ+ΔΔ, log-mel templates, LPC/LPCC,
// formants, segmental statistics, SNR estimation, and DTW.
package dsp

import "math"

const preEmphasisCoeff = 0.97

// Preprocess removes DC offset, applies first-order pre-emphasis, and
// RMS-normalizes to a target of 0.1 — the same three steps every segment
// goes through exactly once before any feature extractor sees it.
func Preprocess(audio []float32) []float64 {
	n := len(audio)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	var mean float64
	for _, s := range audio {
		mean += float64(s)
	}
	mean /= float64(n)
	for i, s := range audio {
		out[i] = float64(s) - mean
	}

	preEmphasized := make([]float64, n)
	preEmphasized[0] = out[0]
	for i := 1; i < n; i++ {
		preEmphasized[i] = out[i] - preEmphasisCoeff*out[i-1]
	}

	var sumSquares float64
	for _, s := range preEmphasized {
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms > 0 {
		scale := 0.1 / rms
		for i := range preEmphasized {
			preEmphasized[i] *= scale
		}
	}
	return preEmphasized
}

// frame splits samples into overlapping frames of length frameLen spaced
// hopLen apart, Hamming-windowed when window is true and left
// rectangular otherwise. The final partial frame (if any)
// is dropped, matching standard STFT framing.
func frame(samples []float64, frameLen, hopLen int, window bool) [][]float64 {
	if frameLen <= 0 || hopLen <= 0 || len(samples) < frameLen {
		return nil
	}
	win := make([]float64, frameLen)
	for i := range win {
		if window {
			win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(frameLen-1))
		} else {
			win[i] = 1
		}
	}

	var frames [][]float64
	for start := 0; start+frameLen <= len(samples); start += hopLen {
		f := make([]float64, frameLen)
		for i := 0; i < frameLen; i++ {
			f[i] = samples[start+i] * win[i]
		}
		frames = append(frames, f)
	}
	return frames
}
