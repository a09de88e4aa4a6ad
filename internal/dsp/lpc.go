package dsp

import "math"

const lpccClip = 50.0

// autocorr computes the biased autocorrelation of x up to the given
// order (inclusive), r[0]..r[order].
func autocorr(x []float64, order int) []float64 {
	n := len(x)
	r := make([]float64, order+1)
	for lag := 0; lag <= order; lag++ {
		var sum float64
		for i := 0; i < n-lag; i++ {
			sum += x[i] * x[i+lag]
		}
		r[lag] = sum
	}
	return r
}

// levinsonDurbin solves the normal equations for an order-th order
// all-pole model from the autocorrelation sequence r, returning the LPC
// coefficients a[1..order] (a[0] is the implicit leading 1).
func levinsonDurbin(r []float64, order int) []float64 {
	a := make([]float64, order+1)
	if r[0] == 0 {
		return a[1:]
	}
	e := r[0]
	for i := 1; i <= order; i++ {
		var acc float64
		for j := 1; j < i; j++ {
			acc += a[j] * r[i-j]
		}
		k := -(r[i] + acc) / e
		newA := make([]float64, order+1)
		copy(newA, a)
		newA[i] = k
		for j := 1; j < i; j++ {
			newA[j] = a[j] + k*a[i-j]
		}
		a = newA
		e *= (1 - k*k)
		if e <= 0 {
			break
		}
	}
	return a[1:]
}

// computeLPC computes order LPC coefficients for a single Hamming-windowed
// frame via autocorrelation + Levinson-Durbin.
func computeLPC(framedSamples []float64, order int) []float64 {
	win := make([]float64, len(framedSamples))
	for i := range win {
		win[i] = framedSamples[i] * (0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(len(framedSamples)-1)))
	}
	r := autocorr(win, order)
	if r[0] == 0 {
		return make([]float64, order)
	}
	norm := r[0]
	for i := range r {
		r[i] /= norm
	}
	return levinsonDurbin(r, order)
}

// lpcToLPCC converts LPC coefficients a[1..p] to LPCC coefficients via the
// standard recursion, clamped to [-50,50] to control the numeric blow-up
// near-silent frames otherwise produce.
func lpcToLPCC(a []float64, nCeps int) []float64 {
	p := len(a)
	c := make([]float64, nCeps)
	for n := 1; n <= nCeps; n++ {
		var sum float64
		for k := 1; k < n; k++ {
			if k <= p {
				sum += float64(n-k) * a[k-1] * cepAt(c, n-k)
			}
		}
		val := 0.0
		if n <= p {
			val = -a[n-1] - sum/float64(n)
		} else {
			val = -sum / float64(n)
		}
		c[n-1] = clip(val, -lpccClip, lpccClip)
	}
	return c
}

func cepAt(c []float64, idx int) float64 {
	if idx <= 0 || idx > len(c) {
		return 0
	}
	return c[idx-1]
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LPCC extracts a (frames, order) matrix of LPC-cepstral coefficients
// from a preprocessed segment, framed at frameMs/hopMs.
func LPCC(preprocessed []float64, sampleRate, order, frameMs, hopMs int) [][]float64 {
	frameLen := sampleRate * frameMs / 1000
	hopLen := sampleRate * hopMs / 1000
	frames := frame(preprocessed, frameLen, hopLen, false)
	out := make([][]float64, len(frames))
	for i, f := range frames {
		lpc := computeLPC(f, order)
		out[i] = lpcToLPCC(lpc, order)
	}
	return out
}

// FixedFrameLPCC resamples an LPCC matrix's time axis to exactly
// fixedFrames rows by linear interpolation and flattens it, the
// representation the fast LPC-Euclidean matcher compares directly.
func FixedFrameLPCC(lpcc [][]float64, fixedFrames int) []float64 {
	if len(lpcc) == 0 {
		return make([]float64, 0)
	}
	cols := len(lpcc[0])
	transposed := make([][]float64, cols)
	for c := 0; c < cols; c++ {
		transposed[c] = make([]float64, len(lpcc))
		for t, row := range lpcc {
			transposed[c][t] = row[c]
		}
	}
	resized := make([][]float64, cols)
	for c := range transposed {
		resized[c] = resampleRow(transposed[c], fixedFrames)
	}
	out := make([]float64, 0, fixedFrames*cols)
	for t := 0; t < fixedFrames; t++ {
		for c := 0; c < cols; c++ {
			out = append(out, resized[c][t])
		}
	}
	return out
}

// Formants extracts spectral formant frequencies from the LPC polynomial
// roots of each frame, restricted to the 90-5000 Hz physiologically
// plausible band, and returns their mean and standard deviation — a
// diagnostic companion to LPCC, not used on the matching hot path.
type FormantStats struct {
	Mean float64
	Std  float64
}

func Formants(preprocessed []float64, sampleRate, order, frameMs, hopMs int) FormantStats {
	frameLen := sampleRate * frameMs / 1000
	hopLen := sampleRate * hopMs / 1000
	frames := frame(preprocessed, frameLen, hopLen, false)

	var freqs []float64
	for _, f := range frames {
		a := computeLPC(f, order)
		poly := make([]float64, order+1)
		poly[0] = 1
		for i, coeff := range a {
			poly[i+1] = coeff
		}
		for _, root := range polyRoots(poly) {
			mag := math.Hypot(real(root), imag(root))
			if mag < 0.7 || mag > 1.3 {
				continue // far from the unit circle: not a resonance
			}
			angle := math.Atan2(imag(root), real(root))
			hz := math.Abs(angle) * float64(sampleRate) / (2 * math.Pi)
			if hz > 90 && hz < 5000 {
				freqs = append(freqs, hz)
			}
		}
	}
	if len(freqs) == 0 {
		return FormantStats{}
	}
	var sum float64
	for _, f := range freqs {
		sum += f
	}
	mean := sum / float64(len(freqs))
	var variance float64
	for _, f := range freqs {
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(len(freqs))
	return FormantStats{Mean: mean, Std: math.Sqrt(variance)}
}

// polyRoots finds the roots of the polynomial with coefficients coeffs
// (coeffs[0] is the coefficient of the highest degree term) via the
// Durand-Kerner iterative method, adequate for the low-order (≈12)
// polynomials LPC analysis produces.
func polyRoots(coeffs []float64) []complex128 {
	degree := len(coeffs) - 1
	if degree < 1 {
		return nil
	}
	lead := coeffs[0]
	if lead == 0 {
		return nil
	}
	norm := make([]float64, len(coeffs))
	for i, c := range coeffs {
		norm[i] = c / lead
	}

	roots := make([]complex128, degree)
	base := complex(0.4, 0.9)
	p := complex128(1)
	for i := range roots {
		roots[i] = p
		p *= base
	}

	evalPoly := func(x complex128) complex128 {
		var y complex128
		for _, c := range norm {
			y = y*x + complex(c, 0)
		}
		return y
	}

	for iter := 0; iter < 100; iter++ {
		maxDelta := 0.0
		for i := range roots {
			denom := complex128(1)
			for j := range roots {
				if i != j {
					denom *= roots[i] - roots[j]
				}
			}
			if denom == 0 {
				continue
			}
			delta := evalPoly(roots[i]) / denom
			roots[i] -= delta
			if d := math.Hypot(real(delta), imag(delta)); d > maxDelta {
				maxDelta = d
			}
		}
		if maxDelta < 1e-9 {
			break
		}
	}
	return roots
}
