package match

import "github.com/richkung/bio-arcade/internal/templates"

// Weights gives each method's fixed vote weight.
type Weights map[templates.Method]float64

// tieEpsilon bounds how close two verdicts' totals must be to count as a
// tie worth breaking with the auxiliary stats signal, rather than with
// floating-point noise.
const tieEpsilon = 1e-9

// tally accumulates one verdict's vote weight/confidence total plus
// enough bookkeeping to report which method/template drove it and, when
// it ties another verdict, to break the tie.
type tally struct {
	total        float64
	bestWeight   float64
	method       templates.Method
	bestTemplate string

	// mfccStatsDist is the smallest MethodMFCCDTW StatsDistance among the
	// results that voted for this verdict; -1 if none voted MFCC-DTW.
	mfccStatsDist float64
}

func newTally() *tally {
	return &tally{mfccStatsDist: -1}
}

// absorb folds one method's Result into the tally: the vote total (the
// caller decides hard vs. soft weighting before calling), the
// best-weight method/template for reporting, and the MFCC-DTW stats
// distance for tie-breaking.
func (t *tally) absorb(r Result, w, amount float64) {
	t.total += amount
	if w > t.bestWeight {
		t.bestWeight = w
		t.method = r.Method
		t.bestTemplate = r.BestTemplate
	}
	if r.Method == templates.MethodMFCCDTW && r.StatsDistance >= 0 {
		if t.mfccStatsDist < 0 || r.StatsDistance < t.mfccStatsDist {
			t.mfccStatsDist = r.StatsDistance
		}
	}
}

// pickWinner finds the highest-total verdict, breaking a near-tie (within
// tieEpsilon) in favor of whichever side has the smaller MFCC-DTW
// segmental-stats distance to its best template — a closer auxiliary
// match is taken as the more confident vote when the primary weighted
// vote can't distinguish them. A side with no MFCC-DTW vote at all never
// wins a tie-break over one that has one.
func pickWinner(scores map[Verdict]*tally) (Verdict, *tally) {
	var winner Verdict = None
	var winnerTally *tally
	for v, t := range scores {
		switch {
		case winnerTally == nil || t.total > winnerTally.total+tieEpsilon:
			winner, winnerTally = v, t
		case t.total < winnerTally.total-tieEpsilon:
			// strictly worse, skip
		case t.mfccStatsDist >= 0 && (winnerTally.mfccStatsDist < 0 || t.mfccStatsDist < winnerTally.mfccStatsDist):
			winner, winnerTally = v, t
		}
	}
	return winner, winnerTally
}

// snrBand returns the adaptive MFCC/LPC weight pair for a given SNR in
// dB, following the three-band table: >30dB, 15-30dB, <15dB.
func snrBand(snr float64) (mfccWeight, lpcWeight float64) {
	switch {
	case snr > 30:
		return 6.0, 0.5
	case snr >= 15:
		return 5.0, 0.5
	default:
		return 4.0, 0.5
	}
}

// AdaptiveWeights derives per-method weights from the segment's
// estimated SNR, overriding the MFCC-DTW and LPC-family entries of base
// and leaving any other configured method (e.g. mel-cosine) untouched.
func AdaptiveWeights(base Weights, snr float64) Weights {
	mfccW, lpcW := snrBand(snr)
	out := make(Weights, len(base))
	for m, w := range base {
		out[m] = w
	}
	if _, ok := out[templates.MethodMFCCDTW]; ok {
		out[templates.MethodMFCCDTW] = mfccW
	}
	if _, ok := out[templates.MethodLPCEuclidean]; ok {
		out[templates.MethodLPCEuclidean] = lpcW
	}
	if _, ok := out[templates.MethodLPCDTW]; ok {
		out[templates.MethodLPCDTW] = lpcW
	}
	return out
}

// Decision is the ensemble's combined verdict for one segment.
type Decision struct {
	Verdict      Verdict
	Command      string
	Confidence   float64
	Method       templates.Method // the highest-weight method that voted for the winner
	BestTemplate string
}

// confidence converts a method's distance decision into a [0,1] score:
// 1.0 for NOISE, 0.0 for NONE, max(0, 1-distance/threshold) for a
// command vote.
func confidence(r Result, threshold float64) float64 {
	switch r.Verdict {
	case Noise:
		return 1.0
	case None:
		return 0.0
	default:
		if threshold <= 0 {
			return 0
		}
		c := 1 - r.Distance/threshold
		if c < 0 {
			return 0
		}
		return c
	}
}

// SoftVote accumulates weight*confidence per candidate label (NOISE and
// NONE counted as distinct labels alongside real commands) and reports
// the label with the largest total. The reporting method/template are
// copied from the highest-weight contributor to the winning label.
func SoftVote(results []Result, weights Weights, thresholds Thresholds) Decision {
	scores := make(map[Verdict]*tally)

	for _, r := range results {
		w := weights[r.Method]
		conf := confidence(r, thresholds[r.Method])
		t, ok := scores[r.Verdict]
		if !ok {
			t = newTally()
			scores[r.Verdict] = t
		}
		t.absorb(r, w, w*conf)
	}

	winner, winnerTally := pickWinner(scores)
	if winnerTally == nil {
		return Decision{Verdict: None}
	}

	d := Decision{Verdict: winner, Method: winnerTally.method, BestTemplate: winnerTally.bestTemplate}
	if winner != Noise && winner != None {
		d.Command = string(winner)
	}
	d.Confidence = normalizedConfidence(winnerTally.total, weights)
	return d
}

// normalizedConfidence scales a winning tally by the sum of all
// configured weights so Confidence stays within [0,1] regardless of how
// many methods are active.
func normalizedConfidence(total float64, weights Weights) float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	c := total / sum
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// melNoiseVetoBoost is the super-weight hard voting adds to NOISE when
// the mel matcher votes NOISE and MFCC confidence is below 0.6.
const melNoiseVetoBoost = 10.0

// HardVote sums raw weights of every method whose vote equals a given
// label, then applies the mel/MFCC veto rule in favor of NOISE.
func HardVote(results []Result, weights Weights, thresholds Thresholds) Decision {
	scores := make(map[Verdict]*tally)
	var mfccConf float64
	var melVotedNoise bool

	for _, r := range results {
		w := weights[r.Method]
		t, ok := scores[r.Verdict]
		if !ok {
			t = newTally()
			scores[r.Verdict] = t
		}
		t.absorb(r, w, w)
		if r.Method == templates.MethodMFCCDTW {
			mfccConf = confidence(r, thresholds[r.Method])
		}
		if r.Method == templates.MethodMelCosine && r.Verdict == Noise {
			melVotedNoise = true
		}
	}

	if melVotedNoise && mfccConf < 0.6 {
		t, ok := scores[Noise]
		if !ok {
			t = newTally()
			t.method = templates.MethodMelCosine
			scores[Noise] = t
		}
		t.total += melNoiseVetoBoost
	}

	winner, winnerTally := pickWinner(scores)
	if winnerTally == nil {
		return Decision{Verdict: None}
	}

	d := Decision{Verdict: winner, Method: winnerTally.method, BestTemplate: winnerTally.bestTemplate}
	if winner != Noise && winner != None {
		d.Command = string(winner)
	}
	d.Confidence = normalizedConfidence(winnerTally.total, weights)
	return d
}
