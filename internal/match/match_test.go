package match

import (
	"math"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richkung/bio-arcade/internal/templates"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.ErrorLevel})
}

func testStoreConfig() templates.Config {
	return templates.Config{
		SampleRate: 16000, NFFT: 512, HopLength: 256, NMFCC: 13, NMels: 26,
		FMin: 80, FMax: 7600, LPCOrder: 12, LPCFrameMs: 25, LPCHopMs: 13,
		TemplateFixedFrames: 20,
	}
}

func synthTone(n int, freq, sampleRate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return out
}

// TestSelfMatchReturnsExactTemplate is the self-match law from the
// testable properties: a template fed back through its own method
// matches itself.
func TestSelfMatchReturnsExactTemplate(t *testing.T) {
	store := templates.New(testLogger(), testStoreConfig(), []string{"mel_cosine"})
	tone := synthTone(8000, 300, 16000)
	store.AddTemplate("JUMP", "jump.wav", tone)

	melQuery := store.Templates(templates.MethodMelCosine)["JUMP"][0]
	query := templates.Template{Matrix: melQuery.Matrix}

	m := New(store, Thresholds{templates.MethodMelCosine: 0.3}, 6)
	res := m.Match(templates.MethodMelCosine, query)
	require.Equal(t, Verdict("JUMP"), res.Verdict)
	assert.Equal(t, "JUMP", res.Command)
	assert.InDelta(t, 0, res.Distance, 1e-9)
}

func TestNoiseTakesPrecedenceOverCloserCommandMatch(t *testing.T) {
	store := templates.New(testLogger(), testStoreConfig(), []string{"mel_cosine"})
	tone := synthTone(8000, 300, 16000)
	noise := synthTone(8000, 305, 16000)
	store.AddTemplate("JUMP", "jump.wav", tone)
	store.AddNoise("noise.wav", noise)

	m := New(store, Thresholds{templates.MethodMelCosine: 10}, 6)
	// query closer to the noise template than to the command template
	query := templates.Template{Matrix: store.NoiseTemplates(templates.MethodMelCosine)[0].Matrix}
	res := m.Match(templates.MethodMelCosine, query)
	assert.Equal(t, Noise, res.Verdict)
}

func TestBeyondThresholdYieldsNone(t *testing.T) {
	store := templates.New(testLogger(), testStoreConfig(), []string{"mel_cosine"})
	store.AddTemplate("JUMP", "jump.wav", synthTone(8000, 300, 16000))

	m := New(store, Thresholds{templates.MethodMelCosine: 1e-12}, 6)
	query := templates.Template{Matrix: store.Templates(templates.MethodMelCosine)["JUMP"][0].Matrix}
	// perturb slightly so distance isn't exactly zero
	query.Matrix[0][0] += 0.01
	res := m.Match(templates.MethodMelCosine, query)
	assert.Equal(t, None, res.Verdict)
}

func TestSNRBandSelectsExpectedWeights(t *testing.T) {
	mfcc, lpc := snrBand(35)
	assert.Equal(t, 6.0, mfcc)
	assert.Equal(t, 0.5, lpc)

	mfcc, lpc = snrBand(20)
	assert.Equal(t, 5.0, mfcc)
	assert.Equal(t, 0.5, lpc)

	mfcc, lpc = snrBand(5)
	assert.Equal(t, 4.0, mfcc)
	assert.Equal(t, 0.5, lpc)
}

func TestSoftVotePicksHighestWeightedConfidence(t *testing.T) {
	results := []Result{
		{Method: templates.MethodMFCCDTW, Verdict: "JUMP", Distance: 10, BestTemplate: "jump_mfcc.wav"},
		{Method: templates.MethodLPCEuclidean, Verdict: None, Distance: 999},
	}
	weights := Weights{templates.MethodMFCCDTW: 5.0, templates.MethodLPCEuclidean: 0.5}
	thresholds := Thresholds{templates.MethodMFCCDTW: 150, templates.MethodLPCEuclidean: 12}

	d := SoftVote(results, weights, thresholds)
	assert.Equal(t, Verdict("JUMP"), d.Verdict)
	assert.Equal(t, "JUMP", d.Command)
	assert.Greater(t, d.Confidence, 0.0)
}

func TestHardVoteAppliesMelNoiseVeto(t *testing.T) {
	results := []Result{
		{Method: templates.MethodMFCCDTW, Verdict: "JUMP", Distance: 140}, // low confidence
		{Method: templates.MethodMelCosine, Verdict: Noise},
	}
	weights := Weights{templates.MethodMFCCDTW: 5.0, templates.MethodMelCosine: 0.5}
	thresholds := Thresholds{templates.MethodMFCCDTW: 150, templates.MethodMelCosine: 0.3}

	d := HardVote(results, weights, thresholds)
	assert.Equal(t, Noise, d.Verdict)
}
