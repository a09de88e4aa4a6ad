package ecg

import (
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richkung/bio-arcade/internal/bus"
	"github.com/richkung/bio-arcade/internal/config"
)

func testECGLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.ErrorLevel})
}

func TestNewManagerStartsInFallbackState(t *testing.T) {
	cfg := config.Default().ECG
	cfg.FallbackBPM = 75
	m := New(testECGLogger(), bus.New(testECGLogger(), 16), cfg)
	assert.Equal(t, stateFallback, m.state)
	require.NotNil(t, m.fallback)
	assert.InDelta(t, 60.0/75.0*cfg.SampleRate, float64(m.fallback.cycleLen), 1.0)
}

// TestFallbackEmitsPeriodicPeaks backdates lastFallbackGen far enough that
// a single processFallback call generates several seconds of synthetic
// P-QRS-T waveform, enough for the real detector to confirm beats and
// publish ECG_PEAK/ECG_BPM_UPDATE the same way it would for live samples.
func TestFallbackEmitsPeriodicPeaks(t *testing.T) {
	cfg := config.Default().ECG
	cfg.FallbackBPM = 75
	b := bus.New(testECGLogger(), 64)

	var events []bus.EventType
	b.Subscribe(bus.ECGPeak, func(e bus.Event) { events = append(events, e.Type) })
	b.Subscribe(bus.ECGBPMUpdate, func(e bus.Event) { events = append(events, e.Type) })
	b.Start()
	defer b.Stop()

	m := New(testECGLogger(), b, cfg)
	m.lastFallbackGen = time.Now().Add(-3 * time.Second)
	m.processFallback()

	require.Eventually(t, func() bool { return len(events) > 0 }, time.Second, time.Millisecond)
	assert.Contains(t, events, bus.ECGPeak)
	assert.Contains(t, events, bus.ECGBPMUpdate)
}

// TestFallbackPeaksAlternateDirection confirms the detector's alternating
// up/down direction convention survives intact for synthetic samples, by
// reading Dir off the actual published ECG_PEAK payloads.
func TestFallbackPeaksAlternateDirection(t *testing.T) {
	cfg := config.Default().ECG
	cfg.FallbackBPM = 75
	b := bus.New(testECGLogger(), 64)

	var dirs []int
	b.Subscribe(bus.ECGPeak, func(e bus.Event) { dirs = append(dirs, e.Data["dir"].(int)) })
	b.Start()
	defer b.Stop()

	m := New(testECGLogger(), b, cfg)
	m.lastFallbackGen = time.Now().Add(-3 * time.Second)
	m.processFallback()

	require.Eventually(t, func() bool { return len(dirs) >= 2 }, time.Second, time.Millisecond)
	for i := 1; i < len(dirs); i++ {
		assert.Equal(t, -dirs[i-1], dirs[i])
	}
}

func TestEnterFallbackClearsPort(t *testing.T) {
	cfg := config.Default().ECG
	m := New(testECGLogger(), bus.New(testECGLogger(), 16), cfg)
	m.state = stateReal
	m.enterFallback()
	assert.Equal(t, stateFallback, m.state)
	assert.Nil(t, m.port)
}
