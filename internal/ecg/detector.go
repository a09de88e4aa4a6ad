package ecg

// peakAmplitudeDelta is the offset above the adaptive signal mean a
// back-searched local max must exceed to confirm an R-peak.
const peakAmplitudeDelta = 20.0

// minThreshold floors the dynamic MWI threshold so a flat-line or
// near-silent signal never produces spurious peaks.
const minThreshold = 20.0

// thresholdUpdatePeriod recomputes the dynamic threshold every N samples.
const thresholdUpdatePeriod = 50

// floatRing is a fixed-capacity, oldest-evicted ring of float64 samples,
// used by the detector to hold just enough recent history for the
// dynamic threshold and back-search window without unbounded growth.
type floatRing struct {
	data     []float64
	writePos int
	filled   bool
}

func newFloatRing(capacity int) *floatRing {
	if capacity < 1 {
		capacity = 1
	}
	return &floatRing{data: make([]float64, capacity)}
}

func (r *floatRing) push(v float64) {
	r.data[r.writePos] = v
	r.writePos = (r.writePos + 1) % len(r.data)
	if r.writePos == 0 {
		r.filled = true
	}
}

func (r *floatRing) length() int {
	if r.filled {
		return len(r.data)
	}
	return r.writePos
}

// last returns up to n of the most recently pushed values, oldest first.
// If fewer than n values have ever been pushed, it returns whatever is
// available rather than padding with zeros — the detector must decline
// to emit a peak rather than reason about phantom history.
func (r *floatRing) last(n int) []float64 {
	avail := r.length()
	if n > avail {
		n = avail
	}
	out := make([]float64, n)
	total := len(r.data)
	start := (r.writePos - n + total) % total
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+i)%total]
	}
	return out
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// Peak is one confirmed R-peak, payload-compatible with the ECG_PEAK
// event fields named in the interface contract. BPMUpdated is false for
// a peak with no preceding RR interval yet (the very first confirmed
// peak), in which case no ECG_BPM_UPDATE should follow.
type Peak struct {
	Dir        int
	Value      float64
	BPM        float64
	BPMUpdated bool
}

// Detector implements the dynamic-threshold, refractory-gated,
// back-searched R-peak detector described for the MWI stream. It is
// strictly single-threaded: all state belongs to the ECG processing
// goroutine.
type Detector struct {
	fs float64

	sampleCounter     int
	lastPeakSample    int
	refractorySamples int
	searchWindow      int

	threshold  float64
	signalMean float64

	mwiHist *floatRing
	sigHist *floatRing

	havePrevPeak bool
	prevPeakIdx  int
	rrHistory    []float64 // last 5 valid RR intervals, oldest first
	bpm          float64

	dir int
}

// NewDetector builds a detector for a stream sampled at fs Hz. Refractory
// period is fixed at 0.25s and the back-search window at 0.1s, per the
// peak-detection contract; the dynamic threshold needs up to 1s of MWI
// history, so mwiHist is sized accordingly.
func NewDetector(fs float64) *Detector {
	refractory := int(0.25 * fs)
	search := int(0.1 * fs)
	return &Detector{
		fs:                fs,
		lastPeakSample:    -refractory - 1,
		refractorySamples: refractory,
		searchWindow:      search,
		threshold:         40,
		signalMean:        120,
		mwiHist:           newFloatRing(int(fs) + 1),
		sigHist:           newFloatRing(search),
		prevPeakIdx:       -1,
		dir:               1,
	}
}

// Process runs one batch of (display, mwi) samples through the detector
// and returns every R-peak confirmed within the batch, in order.
func (d *Detector) Process(display, mwi []float64) []Peak {
	var peaks []Peak
	for i := 0; i < len(mwi); i++ {
		d.sampleCounter++
		d.mwiHist.push(mwi[i])
		d.sigHist.push(display[i])
		d.signalMean = 0.99*d.signalMean + 0.01*display[i]

		if d.sampleCounter%thresholdUpdatePeriod == 0 && d.mwiHist.length() >= int(d.fs) {
			recent := d.mwiHist.last(int(d.fs))
			th := 0.5 * maxOf(recent)
			if th < minThreshold {
				th = minThreshold
			}
			d.threshold = th
		}

		if d.sampleCounter < 3 {
			continue
		}
		if d.sampleCounter-d.lastPeakSample <= d.refractorySamples {
			continue
		}

		last3 := d.mwiHist.last(3)
		if len(last3) < 3 {
			continue
		}
		prev, curr, next := last3[0], last3[1], last3[2]
		if !(curr > d.threshold && curr > prev && curr > next) {
			continue
		}

		region := d.sigHist.last(d.searchWindow)
		if len(region) == 0 {
			continue
		}
		localMax := maxOf(region)
		if localMax <= d.signalMean+peakAmplitudeDelta {
			continue
		}

		d.lastPeakSample = d.sampleCounter
		peaks = append(peaks, d.confirmPeak(localMax))
	}
	return peaks
}

func (d *Detector) confirmPeak(amplitude float64) Peak {
	idx := d.sampleCounter
	bpmUpdated := false
	if d.havePrevPeak {
		rr := float64(idx-d.prevPeakIdx) / d.fs
		if rr > 0.4 && rr < 1.5 {
			d.rrHistory = append(d.rrHistory, rr)
			if len(d.rrHistory) > 5 {
				d.rrHistory = d.rrHistory[len(d.rrHistory)-5:]
			}
			d.bpm = 60 / mean(d.rrHistory)
			bpmUpdated = true
		}
	}
	d.prevPeakIdx = idx
	d.havePrevPeak = true

	d.dir = -d.dir
	return Peak{Dir: d.dir, Value: amplitude, BPM: d.bpm, BPMUpdated: bpmUpdated}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
