package templates

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"

	"github.com/richkung/bio-arcade/internal/dsp"
)

// Method identifies one template-matching algorithm. Each owns its own
// feature representation and its own command/noise maps.
type Method string

const (
	MethodMFCCDTW      Method = "mfcc_dtw"
	MethodLPCEuclidean Method = "lpc_euclidean"
	MethodMelCosine    Method = "mel_cosine"
	// MethodLPCDTW is a selectable alternative to the fast fixed-length
	// LPC matcher: DTW over the variable-length LPCC sequence instead of
	// Euclidean distance over a resampled fixed-length vector.
	MethodLPCDTW Method = "lpc_dtw"
)

// Template is a named (command, filename, features) triple. Features are
// method-dependent: a variable-length matrix for DTW methods, a
// fixed-length vector for the fast LPC matcher, a fixed-shape matrix for
// mel. Never mutated after creation.
type Template struct {
	Command  string
	Filename string
	Matrix   [][]float64 // populated for DTW/mel methods
	Vector   []float64   // populated for the fixed-length LPC method
}

// Config carries the feature-extraction parameters the store needs to
// turn raw preprocessed audio into per-method features, mirroring the
// fields consumed directly from the pipeline configuration.
type Config struct {
	SampleRate, NFFT, HopLength, NMFCC, NMels, FMin, FMax int
	LPCOrder, LPCFrameMs, LPCHopMs, TemplateFixedFrames   int
}

// Store owns, per method, a map of command -> templates and a slice of
// noise templates. It is built once at startup from the WAV template
// bank and mutated only by calibration.
type Store struct {
	log     *log.Logger
	cfg     Config
	methods map[Method]*methodBucket
}

type methodBucket struct {
	commands map[string][]Template
	noise    []Template
}

func newMethodBucket() *methodBucket {
	return &methodBucket{commands: make(map[string][]Template)}
}

// New creates an empty store for the given methods.
func New(logger *log.Logger, cfg Config, methods []string) *Store {
	s := &Store{log: logger, cfg: cfg, methods: make(map[Method]*methodBucket)}
	for _, m := range methods {
		s.methods[Method(m)] = newMethodBucket()
	}
	return s
}

// Extract builds a query Template for method from a preprocessed
// segment, the same feature construction used for shipped templates,
// exposed so callers can memoize per-method extraction across a single
// recognition.
func (s *Store) Extract(method Method, preprocessed []float64) Template {
	return s.featuresFor(method, preprocessed)
}

// featuresFor builds the method-specific template for one preprocessed
// segment.
func (s *Store) featuresFor(method Method, preprocessed []float64) Template {
	c := s.cfg
	switch method {
	case MethodMFCCDTW:
		mfcc := dsp.MFCC(preprocessed, c.NFFT, c.HopLength, c.NMFCC, c.NMels, c.FMin, c.FMax, c.SampleRate, true)
		return Template{Matrix: mfcc}
	case MethodMelCosine:
		mel := dsp.MelTemplate(preprocessed, c.NFFT, c.HopLength, c.NMels, c.FMin, c.FMax, c.TemplateFixedFrames)
		return Template{Matrix: mel}
	case MethodLPCEuclidean:
		lpcc := dsp.LPCC(preprocessed, c.SampleRate, c.LPCOrder, c.LPCFrameMs, c.LPCHopMs)
		return Template{Vector: dsp.FixedFrameLPCC(lpcc, c.TemplateFixedFrames)}
	case MethodLPCDTW:
		lpcc := dsp.LPCC(preprocessed, c.SampleRate, c.LPCOrder, c.LPCFrameMs, c.LPCHopMs)
		return Template{Matrix: lpcc}
	default:
		return Template{}
	}
}

// AddTemplate registers samples as a template for command across every
// method the store tracks.
func (s *Store) AddTemplate(command, filename string, samples []float32) {
	pre := dsp.Preprocess(samples)
	for method, bucket := range s.methods {
		t := s.featuresFor(method, pre)
		t.Command = command
		t.Filename = filename
		bucket.commands[command] = append(bucket.commands[command], t)
	}
}

// AddNoise registers samples as a noise template across every method.
func (s *Store) AddNoise(filename string, samples []float32) {
	pre := dsp.Preprocess(samples)
	for method, bucket := range s.methods {
		t := s.featuresFor(method, pre)
		t.Filename = filename
		bucket.noise = append(bucket.noise, t)
	}
}

// ReplaceCommand drops every existing template for command and installs
// samples as its sole template, the "freedom mode" calibration path.
func (s *Store) ReplaceCommand(command, filename string, samples []float32) {
	pre := dsp.Preprocess(samples)
	for method, bucket := range s.methods {
		t := s.featuresFor(method, pre)
		t.Command = command
		t.Filename = filename
		bucket.commands[command] = []Template{t}
	}
}

// Templates returns every command template registered for a method.
func (s *Store) Templates(method Method) map[string][]Template {
	b, ok := s.methods[method]
	if !ok {
		return nil
	}
	return b.commands
}

// NoiseTemplates returns every noise template registered for a method.
func (s *Store) NoiseTemplates(method Method) []Template {
	b, ok := s.methods[method]
	if !ok {
		return nil
	}
	return b.noise
}

// LoadDir walks dir, classifies every discovered file, decodes its WAV
// audio, and registers it as a command or noise template. Missing or
// empty directories are not an error: the controller may run with no
// shipped bank and rely entirely on calibration.
func (s *Store) LoadDir(dir string) (numTemplates, numNoise int, err error) {
	files, err := Discover(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("discover templates in %s: %w", dir, err)
	}
	for _, f := range files {
		samples, _, err := WAV(f.path)
		if err != nil {
			s.log.Warn("skipping unreadable template", "file", f.path, "err", err)
			continue
		}
		if f.isNoise {
			s.AddNoise(f.path, samples)
			numNoise++
			s.log.Debug("loaded noise template", "file", f.path)
			continue
		}
		s.AddTemplate(f.command, f.path, samples)
		numTemplates++
		s.log.Debug("loaded template", "file", f.path, "command", f.command)
	}
	return numTemplates, numNoise, nil
}

// Validate self-matches every template against itself (self-distance)
// as a load-time sanity check, warning — never failing — when a
// template's self-distance exceeds one tenth of threshold, which would
// indicate a corrupt or malformed feature extraction.
func (s *Store) Validate(thresholds map[Method]float64) {
	for method, bucket := range s.methods {
		threshold := thresholds[method]
		for command, tmpls := range bucket.commands {
			for _, t := range tmpls {
				d := selfDistance(method, t)
				if threshold > 0 && d > threshold/10 {
					s.log.Warn("template self-distance exceeds sanity bound",
						"method", method, "command", command, "file", t.Filename,
						"self_distance", d, "bound", threshold/10)
				}
			}
		}
	}
}

func selfDistance(method Method, t Template) float64 {
	switch method {
	case MethodMFCCDTW:
		return dsp.DTW(t.Matrix, t.Matrix, 6)
	case MethodMelCosine:
		return dsp.MelDistance(t.Matrix, t.Matrix)
	case MethodLPCEuclidean:
		return dsp.EuclideanDistance(t.Vector, t.Vector)
	case MethodLPCDTW:
		return dsp.DTW(t.Matrix, t.Matrix, 6)
	default:
		return math.NaN()
	}
}
