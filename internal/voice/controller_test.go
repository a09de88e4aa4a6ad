package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/richkung/bio-arcade/internal/config"
)

func testConfigForValidation() *config.Config {
	return config.Default()
}

func TestRmsOfEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, rmsOf(nil))
}

func TestRmsOfConstantSignal(t *testing.T) {
	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = 2.0
	}
	assert.InDelta(t, 2.0, rmsOf(samples), 1e-6)
}

func TestValidateAudioRejectsTooShortSegment(t *testing.T) {
	c := &Controller{bgRMS: 10}
	c.cfg = testConfigForValidation()
	short := make([]float32, 10)
	assert.False(t, c.validateAudio(short))
}

func TestValidateAudioRejectsTooQuietSegment(t *testing.T) {
	c := &Controller{bgRMS: 1000}
	c.cfg = testConfigForValidation()
	quiet := make([]float32, 1600)
	for i := range quiet {
		quiet[i] = 1
	}
	assert.False(t, c.validateAudio(quiet))
}

func TestValidateAudioAcceptsLoudLongEnoughSegment(t *testing.T) {
	c := &Controller{bgRMS: 10}
	c.cfg = testConfigForValidation()
	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = 100
	}
	assert.True(t, c.validateAudio(loud))
}

func TestCommandActionsMapKnownCommands(t *testing.T) {
	for _, cmd := range []string{"START", "PAUSE", "JUMP", "MAGNET", "INVERT"} {
		action, ok := commandActions[cmd]
		assert.True(t, ok)
		assert.Equal(t, cmd, action)
	}
}
