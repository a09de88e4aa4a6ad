// Package vad implements the three-state, energy-based voice activity
// detector that segments microphone audio into speech segments for the
// feature/matcher pipeline.
package vad

import "math"

// State is one of the three VAD states.
type State int

const (
	Silence State = iota
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Silence:
		return "SILENCE"
	case Recording:
		return "RECORDING"
	case Processing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the millisecond/multiplier tunables the detector is built
// from; see internal/config for the process-wide defaults.
type Config struct {
	MultLow     float64
	MultHigh    float64
	MinSpeechMs int
	MaxSpeechMs int
	SilenceMs   int
	PreRollMs   int
	SampleRate  int
	ChunkSize   int
}

// PreRollFunc returns up to ms milliseconds of audio immediately
// preceding the current chunk, backed by the capture package's ring
// buffer.
type PreRollFunc func(ms int) []float32

// Decision is returned from ProcessChunk: the state after processing, a
// completed segment (non-nil only on RECORDING->PROCESSING), and
// diagnostic fields not used in the transition logic itself.
type Decision struct {
	State   State
	Segment []float32
	Energy  float64
	ZCR     float64
}

// VAD is a single-threaded state machine; the specification requires it
// be touched by exactly one goroutine (the voice controller's).
type VAD struct {
	cfg            Config
	backgroundRMS  float64
	state          State
	speechBuffer   [][]float32
	speechFrames   int
	silenceFrames  int
	getPreRoll     PreRollFunc
	minSpeechFrms  int
	maxSpeechFrms  int
	silenceFrmsThr int
}

// New builds a VAD from the given config. getPreRoll may be nil, in which
// case no pre-roll is prepended on speech onset.
func New(cfg Config, getPreRoll PreRollFunc) *VAD {
	framesPerMs := float64(cfg.SampleRate) / 1000.0 / float64(cfg.ChunkSize)
	return &VAD{
		cfg:            cfg,
		backgroundRMS:  100.0,
		state:          Silence,
		getPreRoll:     getPreRoll,
		minSpeechFrms:  int(float64(cfg.MinSpeechMs) * framesPerMs),
		maxSpeechFrms:  int(float64(cfg.MaxSpeechMs) * framesPerMs),
		silenceFrmsThr: int(float64(cfg.SilenceMs) * framesPerMs),
	}
}

// PCMScale converts float32 samples in [-1,1] to the signed 16-bit PCM
// scale on which chunk energies and the background RMS are compared.
const PCMScale = 32768.0

// SetBackground updates the measured background RMS (on the 16-bit PCM
// scale) that the adaptive threshold derives from. A floor of 50
// prevents a near-silent calibration measurement from making the
// detector hypersensitive.
func (v *VAD) SetBackground(rms float64) {
	if rms < 50 {
		rms = 50
	}
	v.backgroundRMS = rms
}

func (v *VAD) threshold() float64 {
	low := v.backgroundRMS * v.cfg.MultLow
	high := v.backgroundRMS * v.cfg.MultHigh
	return (low + high) / 2
}

func computeEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	return math.Sqrt(sumSquares/float64(len(samples))) * PCMScale
}

// computeZCR is a secondary diagnostic only — never consulted by the
// SILENCE/RECORDING transition rule.
func computeZCR(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	prevSign := sign(samples[0])
	for _, s := range samples[1:] {
		cur := sign(s)
		if cur != prevSign {
			crossings++
		}
		prevSign = cur
	}
	return float64(crossings) / float64(len(samples))
}

func sign(f float32) int {
	if f < 0 {
		return -1
	}
	return 1
}

// ProcessChunk advances the state machine by one chunk.
func (v *VAD) ProcessChunk(chunk []float32) Decision {
	energy := computeEnergy(chunk)
	isSpeech := energy > v.threshold()
	d := Decision{Energy: energy, ZCR: computeZCR(chunk)}

	switch v.state {
	case Silence:
		if isSpeech {
			v.state = Recording
			v.speechBuffer = v.speechBuffer[:0]
			if v.getPreRoll != nil {
				if pre := v.getPreRoll(v.cfg.PreRollMs); len(pre) > 0 {
					v.speechBuffer = append(v.speechBuffer, pre)
				}
			}
			v.speechBuffer = append(v.speechBuffer, copyChunk(chunk))
			v.speechFrames = 1
			v.silenceFrames = 0
		}

	case Recording:
		v.speechBuffer = append(v.speechBuffer, copyChunk(chunk))
		v.speechFrames++
		if isSpeech {
			v.silenceFrames = 0
		} else {
			v.silenceFrames++
		}

		if v.silenceFrames >= v.silenceFrmsThr || v.speechFrames >= v.maxSpeechFrms {
			// the trailing silent chunks do not count as speech
			if v.speechFrames-v.silenceFrames >= v.minSpeechFrms {
				v.state = Processing
				d.Segment = concat(v.speechBuffer)
				v.speechBuffer = nil
			} else {
				v.speechBuffer = nil
				v.state = Silence
			}
		}

	case Processing:
		// terminal until the caller explicitly calls Reset
	}

	d.State = v.state
	return d
}

// Reset returns the VAD to SILENCE with no residual buffer, required
// after every segment so the next speech onset starts clean.
func (v *VAD) Reset() {
	v.state = Silence
	v.speechBuffer = nil
	v.speechFrames = 0
	v.silenceFrames = 0
}

// State reports the current state without advancing it.
func (v *VAD) State() State { return v.state }

func copyChunk(chunk []float32) []float32 {
	out := make([]float32, len(chunk))
	copy(out, chunk)
	return out
}

func concat(chunks [][]float32) []float32 {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]float32, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
