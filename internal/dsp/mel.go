package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds nMels triangular filters over [fmin,fmax], spaced
// evenly on the mel scale, against an nFFT/2+1-bin power spectrum at
// sampleRate, the standard construction used throughout speech front
// ends.
func melFilterbank(nFFT, sampleRate, nMels, fmin, fmax int) [][]float64 {
	nBins := nFFT/2 + 1
	melMin := hzToMel(float64(fmin))
	melMax := hzToMel(float64(fmax))

	points := make([]float64, nMels+2)
	for i := range points {
		points[i] = melMin + (melMax-melMin)*float64(i)/float64(nMels+1)
	}
	binFreqs := make([]int, nMels+2)
	for i, m := range points {
		hz := melToHz(m)
		binFreqs[i] = int(math.Floor((float64(nFFT) + 1) * hz / float64(sampleRate)))
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filters[m] = make([]float64, nBins)
		left, center, right := binFreqs[m], binFreqs[m+1], binFreqs[m+2]
		for k := left; k < center && k < nBins; k++ {
			if k >= 0 && center != left {
				filters[m][k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k < right && k < nBins; k++ {
			if k >= 0 && right != center {
				filters[m][k] = float64(right-k) / float64(right-center)
			}
		}
	}
	return filters
}

// powerSpectrum returns the nFFT/2+1 single-sided power spectrum of a
// single frame, zero-padded/truncated to nFFT.
func powerSpectrum(frame []float64, nFFT int) []float64 {
	padded := make([]float64, nFFT)
	copy(padded, frame)
	spectrum := fft.FFTReal(padded)
	nBins := nFFT/2 + 1
	power := make([]float64, nBins)
	for i := 0; i < nBins; i++ {
		re, im := real(spectrum[i]), imag(spectrum[i])
		power[i] = (re*re + im*im) / float64(nFFT)
	}
	return power
}

// MelTemplate computes a log-compressed mel-spectrogram resized by linear
// interpolation to exactly fixedFrames time-steps, producing an
// nMels-by-fixedFrames matrix suitable for cosine-distance template
// matching.
func MelTemplate(preprocessed []float64, nFFT, hopLength, nMels, fmin, fmax, fixedFrames int) [][]float64 {
	frames := frame(preprocessed, nFFT, hopLength, true)
	filters := melFilterbank(nFFT, 16000, nMels, fmin, fmax)

	if len(frames) == 0 {
		return zeros(nMels, fixedFrames)
	}

	mel := make([][]float64, nMels)
	for m := range mel {
		mel[m] = make([]float64, len(frames))
	}
	for t, f := range frames {
		power := powerSpectrum(f, nFFT)
		for m := 0; m < nMels; m++ {
			var sum float64
			for k, coeff := range filters[m] {
				sum += coeff * power[k]
			}
			mel[m][t] = math.Log1p(sum)
		}
	}

	return resizeTimeAxis(mel, fixedFrames)
}

// resizeTimeAxis linearly interpolates each row of mat (shape rows x T)
// to exactly fixedFrames columns, the Go equivalent of scipy.ndimage.zoom
// used by the original mel-template extractor.
func resizeTimeAxis(mat [][]float64, fixedFrames int) [][]float64 {
	rows := len(mat)
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = resampleRow(mat[r], fixedFrames)
	}
	return out
}

func resampleRow(row []float64, n int) []float64 {
	out := make([]float64, n)
	if len(row) == 0 {
		return out
	}
	if len(row) == 1 {
		for i := range out {
			out[i] = row[0]
		}
		return out
	}
	ratio := float64(len(row)-1) / float64(maxInt(n-1, 1))
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(row)-1 {
			out[i] = row[len(row)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = row[idx]*(1-frac) + row[idx+1]*frac
	}
	return out
}

func zeros(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MelDistance computes cosine distance between two equal-shaped
// flattened mel templates.
func MelDistance(a, b [][]float64) float64 {
	flatA, flatB := flatten(a), flatten(b)
	var dot, normA, normB float64
	for i := range flatA {
		dot += flatA[i] * flatB[i]
		normA += flatA[i] * flatA[i]
		normB += flatB[i] * flatB[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - cos
}

func flatten(mat [][]float64) []float64 {
	var out []float64
	for _, row := range mat {
		out = append(out, row...)
	}
	return out
}
