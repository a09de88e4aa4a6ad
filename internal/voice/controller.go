// Package voice orchestrates microphone capture, voice-activity
// detection, feature extraction, multi-method matching, and ensemble
// voting into a single recognition pipeline that publishes its verdicts
// on the event bus.
package voice

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/richkung/bio-arcade/internal/audio"
	"github.com/richkung/bio-arcade/internal/bus"
	"github.com/richkung/bio-arcade/internal/config"
	"github.com/richkung/bio-arcade/internal/dsp"
	"github.com/richkung/bio-arcade/internal/match"
	"github.com/richkung/bio-arcade/internal/templates"
	"github.com/richkung/bio-arcade/internal/vad"
)

// calibrationTimeout is how long start_calibration_mode waits for a
// match before self-terminating.
const calibrationTimeout = 10 * time.Second

// commandActions maps a recognized command to the game action published
// alongside it; unmapped commands pass through unchanged.
var commandActions = map[string]string{
	"START":  "START",
	"PAUSE":  "PAUSE",
	"JUMP":   "JUMP",
	"MAGNET": "MAGNET",
	"INVERT": "INVERT",
}

// calibration holds the in-progress calibration target, guarded by mu.
type calibration struct {
	mu          sync.Mutex
	target      string
	freedomMode bool
	startedAt   time.Time
	active      bool
}

// Controller wires capture -> VAD -> feature extraction -> matcher ->
// voter -> bus. One recognition goroutine owns the VAD and all
// per-segment state; the capture callback runs on its own goroutine
// inside the audio package.
type Controller struct {
	log      *log.Logger
	bus      *bus.Bus
	cfg      *config.Config
	capturer *audio.Capturer
	vad      *vad.VAD
	store    *templates.Store
	matcher  *match.Matcher
	weights  match.Weights
	thresh   match.Thresholds
	methods  []templates.Method
	player   *audio.Player

	calib calibration
	bgRMS float64

	running  bool
	runMu    sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a controller and loads its template bank unless
// freedomMode skips it entirely.
func New(logger *log.Logger, b *bus.Bus, cfg *config.Config, freedomMode bool) (*Controller, error) {
	voiceLog := logger.With("component", "voice")

	capturer, err := audio.NewCapturer(logger, cfg.Audio.SampleRate, cfg.VAD.PreRollMs)
	if err != nil {
		return nil, fmt.Errorf("create capturer: %w", err)
	}

	storeCfg := templates.Config{
		SampleRate: cfg.Audio.SampleRate, NFFT: cfg.Audio.NFFT, HopLength: cfg.Audio.HopLength,
		NMFCC: cfg.Audio.NMFCC, NMels: cfg.Audio.NMels, FMin: cfg.Audio.FMin, FMax: cfg.Audio.FMax,
		LPCOrder: cfg.Match.LPCOrder, LPCFrameMs: cfg.Match.LPCFrameMs, LPCHopMs: cfg.Match.LPCHopMs,
		TemplateFixedFrames: cfg.Match.TemplateFixedFrames,
	}
	store := templates.New(voiceLog, storeCfg, cfg.Match.Methods)

	thresh := match.Thresholds{
		templates.MethodMFCCDTW:      cfg.Match.ThresholdMFCCDTW,
		templates.MethodLPCDTW:       cfg.Match.ThresholdMFCCDTW,
		templates.MethodLPCEuclidean: cfg.Match.ThresholdLPC,
		templates.MethodMelCosine:    cfg.Match.ThresholdMel,
	}
	weights := match.Weights{
		templates.MethodMFCCDTW:      5.0,
		templates.MethodLPCDTW:       0.5,
		templates.MethodLPCEuclidean: 0.5,
		templates.MethodMelCosine:    1.0,
	}

	methods := make([]templates.Method, len(cfg.Match.Methods))
	for i, m := range cfg.Match.Methods {
		methods[i] = templates.Method(m)
	}

	c := &Controller{
		log:      voiceLog,
		bus:      b,
		cfg:      cfg,
		capturer: capturer,
		store:    store,
		matcher:  match.New(store, thresh, cfg.Match.DTWRadius),
		weights:  weights,
		thresh:   thresh,
		methods:  methods,
		stopChan: make(chan struct{}),
	}

	if !freedomMode {
		n, noise, err := store.LoadDir(cfg.Templates.Dir)
		if err != nil {
			voiceLog.Warn("error loading templates", "err", err)
		} else {
			voiceLog.Info("loaded template bank", "templates", n, "noise", noise)
		}
		store.Validate(thresh)
	} else {
		voiceLog.Info("freedom mode: skipping shipped template bank")
	}

	player, err := audio.NewPlayer(voiceLog, func(eventType string, data map[string]any) {
		b.Publish(bus.EventType(eventType), data)
	})
	if err != nil {
		voiceLog.Warn("playback device unavailable, calibration confirmations will be silent", "err", err)
	} else {
		c.player = player
	}

	return c, nil
}

// Start opens the capture device, calibrates VAD/SNR background,
// collects noise seed segments, and launches the recognition loop.
func (c *Controller) Start() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return nil
	}

	if err := c.capturer.Start(); err != nil {
		c.bus.Publish(bus.VoiceError, map[string]any{"error": err.Error()})
		return fmt.Errorf("start capture: %w", err)
	}

	c.log.Info("calibrating VAD background, stay quiet")
	bgRMS := c.capturer.MeasureBackground(1000)
	c.vad = vad.New(vad.Config{
		MultLow: c.cfg.VAD.MultLow, MultHigh: c.cfg.VAD.MultHigh,
		MinSpeechMs: c.cfg.VAD.MinSpeechMs, MaxSpeechMs: c.cfg.VAD.MaxSpeechMs,
		SilenceMs: c.cfg.VAD.SilenceMs, PreRollMs: c.cfg.VAD.PreRollMs,
		SampleRate: c.cfg.Audio.SampleRate, ChunkSize: c.cfg.Audio.ChunkSize,
	}, c.capturer.GetPreRoll)
	c.vad.SetBackground(bgRMS * vad.PCMScale)
	c.bgRMS = bgRMS
	c.log.Info("background RMS measured", "rms", bgRMS)

	c.collectNoiseSamples(1000, 3)

	c.running = true
	c.wg.Add(1)
	go c.recognitionLoop()
	c.log.Info("voice controller started", "methods", c.methods)
	return nil
}

// Stop halts the recognition loop and tears down the capture device.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopChan)
	c.wg.Wait()
	c.capturer.Close()
	if c.player != nil {
		c.player.Close()
	}
	c.log.Info("voice controller stopped")
}

// collectNoiseSamples gathers numSamples chunks of durationMs each and
// registers them as noise templates, seeding the matcher's rejection
// class before recognition begins.
func (c *Controller) collectNoiseSamples(durationMs, numSamples int) {
	samplesNeeded := c.cfg.Audio.SampleRate * durationMs / 1000 * numSamples
	var collected []float32
	for len(collected) < samplesNeeded {
		chunk := c.capturer.GetChunk(200 * time.Millisecond)
		if len(chunk) == 0 {
			continue
		}
		collected = append(collected, chunk...)
	}
	if len(collected) > samplesNeeded {
		collected = collected[:samplesNeeded]
	}
	segLen := len(collected) / numSamples
	if segLen == 0 {
		return
	}
	for i := 0; i < numSamples; i++ {
		seg := collected[i*segLen : (i+1)*segLen]
		c.store.AddNoise(fmt.Sprintf("startup_noise_%d", i), seg)
	}
	c.log.Info("collected noise seed samples", "count", numSamples)
}

// StartCalibrationMode begins calibrating the given command: every
// recognition that matches it becomes a new template, or, in freedom
// mode, the next validated segment is captured directly.
func (c *Controller) StartCalibrationMode(command string, freedomMode bool) {
	c.calib.mu.Lock()
	defer c.calib.mu.Unlock()
	c.calib.target = command
	c.calib.freedomMode = freedomMode
	c.calib.startedAt = time.Now()
	c.calib.active = true
	if c.vad != nil {
		c.vad.Reset()
	}
	c.log.Info("entering calibration mode", "command", command, "freedom", freedomMode)
}

// StopCalibrationMode exits calibration without requiring a match.
func (c *Controller) StopCalibrationMode() {
	c.calib.mu.Lock()
	defer c.calib.mu.Unlock()
	c.calib.active = false
	c.calib.target = ""
}

func (c *Controller) recognitionLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		chunk := c.capturer.GetChunk(100 * time.Millisecond)
		if len(chunk) == 0 {
			continue
		}

		decision := c.vad.ProcessChunk(chunk)
		if decision.State != vad.Processing || decision.Segment == nil {
			continue
		}

		c.handleSegment(decision.Segment)
		c.vad.Reset()
	}
}

func (c *Controller) handleSegment(segment []float32) {
	start := time.Now()
	preprocessed := dsp.Preprocess(segment)
	snr := dsp.SNR(preprocessed)

	results := make([]match.Result, 0, len(c.methods))
	for _, method := range c.methods {
		query := c.store.Extract(method, preprocessed)
		results = append(results, c.matcher.Match(method, query))
	}

	weights := c.weights
	if c.cfg.Match.AdaptiveWeighting {
		weights = match.AdaptiveWeights(c.weights, snr)
	}

	var decision match.Decision
	if c.cfg.Match.HardVoting {
		decision = match.HardVote(results, weights, c.thresh)
	} else {
		decision = match.SoftVote(results, weights, c.thresh)
	}

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	c.handleCalibration(decision, segment, snr)

	if decision.Verdict != match.Noise && decision.Verdict != match.None {
		action := decision.Command
		if a, ok := commandActions[decision.Command]; ok {
			action = a
		}
		// Formants are a diagnostic companion to the match decision, not
		// an input to it — computed only once a command is confirmed, so
		// downstream consumers (e.g. a voice-profile display) can read
		// them off the event without the matching hot path paying for
		// LPC root-finding on every segment, including noise.
		formants := dsp.Formants(preprocessed, c.cfg.Audio.SampleRate, c.cfg.Match.LPCOrder, c.cfg.Match.LPCFrameMs, c.cfg.Match.LPCHopMs)
		c.bus.Publish(bus.VoiceCommand, map[string]any{
			"command":         decision.Command,
			"action":          action,
			"confidence":      decision.Confidence,
			"method":          string(decision.Method),
			"latency_ms":      latencyMs,
			"snr":             snr,
			"formant_mean_hz": formants.Mean,
			"formant_std_hz":  formants.Std,
		})
		c.log.Info("voice command recognized", "command", decision.Command, "confidence", decision.Confidence, "snr", snr)
	} else {
		c.bus.Publish(bus.VoiceNoise, map[string]any{"snr": snr})
	}
}

// handleCalibration implements the calibration-mode branch of segment
// handling: timeout check, freedom-mode direct capture, or
// match-against-target confirmation.
func (c *Controller) handleCalibration(decision match.Decision, segment []float32, snr float64) {
	c.calib.mu.Lock()
	active, target, freedomMode, startedAt := c.calib.active, c.calib.target, c.calib.freedomMode, c.calib.startedAt
	c.calib.mu.Unlock()
	if !active {
		return
	}

	if time.Since(startedAt) > calibrationTimeout {
		c.bus.Publish(bus.CalibrationResult, map[string]any{
			"command": target, "success": false, "message": "timeout",
		})
		c.StopCalibrationMode()
		return
	}

	energy := rmsOf(segment)

	if freedomMode {
		if !c.validateAudio(segment) {
			c.bus.Publish(bus.CalibrationResult, map[string]any{
				"command": target, "success": false,
				"message": "audio too quiet or too short, please try again",
			})
			return
		}
		c.store.ReplaceCommand(target, fmt.Sprintf("freedom_%s_%d", target, time.Now().UnixNano()), segment)
		c.playbackConfirmation(target, segment)
		c.bus.Publish(bus.CalibrationResult, map[string]any{
			"command": target, "success": true, "message": "custom command recorded", "energy": energy,
		})
		c.StopCalibrationMode()
		return
	}

	if decision.Command == target {
		c.store.AddTemplate(target, fmt.Sprintf("live_calib_%d", time.Now().UnixNano()), segment)
		c.bus.Publish(bus.CalibrationResult, map[string]any{
			"command": target, "success": true, "message": "calibration successful", "energy": energy,
		})
		c.StopCalibrationMode()
	}
}

// playbackConfirmation plays the just-captured segment back to the user
// as audible confirmation of a freedom-mode custom command capture,
// publishing PlaybackStart/PlaybackComplete around the playback. If no
// playback device is available the calibration result still follows;
// the confirmation is a convenience, not a requirement.
func (c *Controller) playbackConfirmation(target string, segment []float32) {
	if c.player == nil {
		return
	}
	if err := c.player.Play(audio.Cue{Samples: segment, SampleRate: c.cfg.Audio.SampleRate}); err != nil {
		c.log.Warn("playback confirmation failed", "command", target, "err", err)
	}
}

// validateAudio checks the minimum-length and minimum-energy contract
// for freedom-mode template capture: >=100ms and RMS >= 1.5x background.
func (c *Controller) validateAudio(segment []float32) bool {
	minSamples := c.cfg.Audio.SampleRate / 10
	if len(segment) < minSamples {
		return false
	}
	rms := rmsOf(segment)
	threshold := c.bgRMS * 1.5
	return rms >= threshold
}

func rmsOf(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
