// Package match implements the per-method template matchers and the
// SNR-adaptive ensemble voter that combines their verdicts into one
// recognition result.
package match

import (
	"sort"

	"github.com/richkung/bio-arcade/internal/dsp"
	"github.com/richkung/bio-arcade/internal/templates"
)

// Verdict is NOISE, NONE (no template close enough), or a command word.
type Verdict string

const (
	Noise Verdict = "NOISE"
	None  Verdict = "NONE"
)

// Ranked is one entry of a per-method ranked candidate list, closest
// template first.
type Ranked struct {
	Command  string
	Distance float64
}

// Result is one method's match against a single feature record: the
// decided verdict, the winning distance, the template that produced it,
// the full ranked list, and the distance to the nearest noise template.
type Result struct {
	Method        templates.Method
	Verdict       Verdict
	Command       string // set only when Verdict is a real command
	Distance      float64
	BestTemplate  string
	Ranked        []Ranked
	NoiseDistance float64

	// StatsDistance is the auxiliary segmental mean/std distance between
	// the query's MFCC matrix and the winning template's, computed only
	// for MethodMFCCDTW (the method whose feature representation is
	// actually an MFCC matrix); -1 for every other method. The voter
	// uses it as a last-resort tie-break, never as a primary signal.
	StatsDistance float64
}

// Thresholds maps each method to its decision threshold — the only
// knob governing that method's precision/recall trade-off.
type Thresholds map[templates.Method]float64

// Matcher runs per-method template matching over a template store;
// dtwRadius configures the Sakoe-Chiba band width for DTW-based methods.
type Matcher struct {
	store     *templates.Store
	thresh    Thresholds
	dtwRadius int
}

// New builds a matcher over an already-loaded template store.
func New(store *templates.Store, thresholds Thresholds, dtwRadius int) *Matcher {
	return &Matcher{store: store, thresh: thresholds, dtwRadius: dtwRadius}
}

// distance returns the pairwise distance between two templates using
// the distance function of the method's feature representation.
func distance(method templates.Method, dtwRadius int, a, b templates.Template) float64 {
	switch method {
	case templates.MethodMFCCDTW, templates.MethodLPCDTW:
		return dsp.DTW(a.Matrix, b.Matrix, dtwRadius)
	case templates.MethodMelCosine:
		return dsp.MelDistance(a.Matrix, b.Matrix)
	case templates.MethodLPCEuclidean:
		return dsp.EuclideanDistance(a.Vector, b.Vector)
	default:
		return 1e18
	}
}

// Match runs one method's decision logic against an already-extracted
// feature record for the segment: argmin distance across every command
// template, argmin distance across noise templates, then the
// noise-precedence / threshold / command decision rule.
func (m *Matcher) Match(method templates.Method, query templates.Template) Result {
	commands := m.store.Templates(method)
	noiseTemplates := m.store.NoiseTemplates(method)
	threshold := m.thresh[method]

	bestCommand := ""
	bestDistance := 1e18
	bestTemplateName := ""
	var bestTemplate templates.Template
	var ranked []Ranked

	for cmd, tmpls := range commands {
		cmdBest := 1e18
		for _, t := range tmpls {
			d := distance(method, m.dtwRadius, query, t)
			if d < cmdBest {
				cmdBest = d
			}
			if d < bestDistance {
				bestDistance = d
				bestCommand = cmd
				bestTemplateName = t.Filename
				bestTemplate = t
			}
		}
		if len(tmpls) > 0 {
			ranked = append(ranked, Ranked{Command: cmd, Distance: cmdBest})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Distance < ranked[j].Distance })

	noiseDistance := 1e18
	for _, t := range noiseTemplates {
		d := distance(method, m.dtwRadius, query, t)
		if d < noiseDistance {
			noiseDistance = d
		}
	}

	res := Result{
		Method:        method,
		Distance:      bestDistance,
		BestTemplate:  bestTemplateName,
		Ranked:        ranked,
		NoiseDistance: noiseDistance,
		StatsDistance: -1,
	}
	if method == templates.MethodMFCCDTW && bestTemplate.Matrix != nil {
		res.StatsDistance = dsp.EuclideanDistance(dsp.Stats(query.Matrix), dsp.Stats(bestTemplate.Matrix))
	}

	switch {
	case len(noiseTemplates) > 0 && noiseDistance < bestDistance:
		res.Verdict = Noise
	case len(commands) == 0 || bestDistance > threshold:
		res.Verdict = None
	default:
		res.Verdict = Verdict(bestCommand)
		res.Command = bestCommand
	}
	return res
}
