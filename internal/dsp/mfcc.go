package dsp

import "math"

// MFCC computes standard mel-frequency cepstral coefficients, optionally
// concatenated with their first and second time-derivatives, followed by
// per-utterance cepstral mean normalization. Output is (frames, nMFCC) or
// (frames, nMFCC*3) when includeDelta is set. A segment too short to
// produce any frame returns a zero-row matrix rather than erroring, per
// the short-segment contract.
func MFCC(preprocessed []float64, nFFT, hopLength, nMFCC, nMels, fmin, fmax, sampleRate int, includeDelta bool) [][]float64 {
	frames := frame(preprocessed, nFFT, hopLength, true)
	if len(frames) == 0 {
		return nil
	}
	filters := melFilterbank(nFFT, sampleRate, nMels, fmin, fmax)

	base := make([][]float64, len(frames))
	for t, f := range frames {
		power := powerSpectrum(f, nFFT)
		melEnergies := make([]float64, nMels)
		for m := 0; m < nMels; m++ {
			var sum float64
			for k, coeff := range filters[m] {
				sum += coeff * power[k]
			}
			melEnergies[m] = math.Log(sum + 1e-10)
		}
		base[t] = dct2(melEnergies, nMFCC)
	}

	result := base
	if includeDelta {
		d1 := delta(base)
		d2 := delta(d1)
		result = hstack(base, d1, d2)
	}

	cepstralMeanNormalize(result)
	return result
}

// dct2 applies a type-II discrete cosine transform and keeps the first n
// coefficients, the orthogonality-free form librosa uses for MFCC.
func dct2(x []float64, n int) []float64 {
	N := len(x)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < N; i++ {
			sum += x[i] * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(N)))
		}
		out[k] = 2 * sum
	}
	return out
}

// delta computes the time-derivative of a (frames, features) matrix via a
// symmetric-difference filter whose width is clamped to the largest odd
// value not exceeding the frame count, so short segments never index out
// of range; a single-frame (or empty) input yields an all-zero delta of
// the same shape rather than failing.
func delta(mat [][]float64) [][]float64 {
	n := len(mat)
	out := make([][]float64, n)
	if n == 0 {
		return out
	}
	cols := len(mat[0])
	for i := range out {
		out[i] = make([]float64, cols)
	}
	width := 9
	if n < width {
		width = n
		if width%2 == 0 {
			width--
		}
	}
	if width < 3 {
		return out // all-zero: too short to estimate a derivative
	}
	half := width / 2

	var denom float64
	for t := 1; t <= half; t++ {
		denom += 2 * float64(t) * float64(t)
	}

	for c := 0; c < cols; c++ {
		for i := 0; i < n; i++ {
			var sum float64
			for t := 1; t <= half; t++ {
				prev := clampIndex(i-t, n)
				next := clampIndex(i+t, n)
				sum += float64(t) * (mat[next][c] - mat[prev][c])
			}
			out[i][c] = sum / denom
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func hstack(mats ...[][]float64) [][]float64 {
	rows := len(mats[0])
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		var row []float64
		for _, m := range mats {
			row = append(row, m[r]...)
		}
		out[r] = row
	}
	return out
}

// cepstralMeanNormalize subtracts the per-column mean in place, removing
// channel/recording-condition bias the way the original feature
// extractor does after stacking.
func cepstralMeanNormalize(mat [][]float64) {
	if len(mat) == 0 {
		return
	}
	cols := len(mat[0])
	means := make([]float64, cols)
	for _, row := range mat {
		for c, v := range row {
			means[c] += v
		}
	}
	for c := range means {
		means[c] /= float64(len(mat))
	}
	for _, row := range mat {
		for c := range row {
			row[c] -= means[c]
		}
	}
}
