// Package config loads and validates configuration for the biovoice
// pipeline. Defaults come from an optional YAML file; any field may be
// overridden by a CLI flag of the same name.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// AudioConfig holds microphone capture and feature-extraction front-end
// settings.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	ChunkSize  int `yaml:"chunk_size"`
	NFFT       int `yaml:"n_fft"`
	HopLength  int `yaml:"hop_length"`
	NMFCC      int `yaml:"n_mfcc"`
	NMels      int `yaml:"n_mels"`
	FMin       int `yaml:"fmin"`
	FMax       int `yaml:"fmax"`
}

// VADConfig holds voice-activity-detection thresholds, all expressed as
// multipliers of measured background RMS or as millisecond durations.
type VADConfig struct {
	MultLow      float64 `yaml:"mult_low"`
	MultHigh     float64 `yaml:"mult_high"`
	MinSpeechMs  int     `yaml:"min_speech_ms"`
	MaxSpeechMs  int     `yaml:"max_speech_ms"`
	SilenceMs    int     `yaml:"silence_ms"`
	PreRollMs    int     `yaml:"pre_roll_ms"`
}

// MatchConfig holds DTW/LPC/mel feature and matcher tunables.
type MatchConfig struct {
	DTWRadius           int     `yaml:"dtw_radius"`
	LPCOrder            int     `yaml:"lpc_order"`
	LPCFrameMs          int     `yaml:"lpc_frame_ms"`
	LPCHopMs            int     `yaml:"lpc_hop_ms"`
	TemplateFixedFrames int     `yaml:"template_fixed_frames"`
	ThresholdMFCCDTW    float64 `yaml:"threshold_mfcc_dtw"`
	ThresholdMel        float64 `yaml:"threshold_mel"`
	ThresholdLPC        float64 `yaml:"threshold_lpc"`
	// Methods lists the matcher methods the voice controller dispatches a
	// segment to, in configuration order. Valid values: "mfcc_dtw",
	// "lpc_euclidean", "lpc_dtw", "mel_cosine".
	Methods []string `yaml:"methods"`
	// AdaptiveWeighting selects SNR-adaptive per-method weights (true) or a
	// fixed weight table (false) in the ensemble voter.
	AdaptiveWeighting bool `yaml:"adaptive_weighting"`
	// HardVoting selects hard (weight-sum) voting instead of the default
	// soft (confidence-weighted) voting.
	HardVoting bool `yaml:"hard_voting"`
}

// ECGConfig holds serial acquisition and peak-detector tunables.
type ECGConfig struct {
	Port             string  `yaml:"port"`
	Baud             int     `yaml:"baud"`
	SampleRate       float64 `yaml:"sample_rate"`
	BPMThreshold     float64 `yaml:"bpm_threshold"`
	BPMRecovery      float64 `yaml:"bpm_recovery"`
	FallbackBPM      float64 `yaml:"fallback_bpm"`
	NoSignalTimeout  float64 `yaml:"no_signal_timeout_s"`
	RetryInterval    float64 `yaml:"retry_interval_s"`
}

// TemplatesConfig points at the on-disk template bank.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// Config is the fully composed, validated configuration for one process.
type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Match     MatchConfig     `yaml:"match"`
	ECG       ECGConfig       `yaml:"ecg"`
	Templates TemplatesConfig `yaml:"templates"`
	Verbose   bool            `yaml:"verbose"`
}

// Default returns the reference defaults named in §6/§7 of the
// specification this package implements, picking a value inside the
// range wherever the source cites a divergent range (not always its
// exact midpoint).
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			ChunkSize:  384,
			NFFT:       1024,
			HopLength:  384,
			NMFCC:      13,
			NMels:      128,
			FMin:       80,
			FMax:       7600,
		},
		VAD: VADConfig{
			MultLow:     1.8,
			MultHigh:    4.0,
			MinSpeechMs: 150,
			MaxSpeechMs: 1500,
			SilenceMs:   180,
			PreRollMs:   80,
		},
		Match: MatchConfig{
			DTWRadius:           6,
			LPCOrder:            12,
			LPCFrameMs:          25,
			LPCHopMs:            13,
			TemplateFixedFrames: 50,
			ThresholdMFCCDTW:    150,
			ThresholdMel:        0.3,
			ThresholdLPC:        12,
			Methods:             []string{"lpc_euclidean", "mfcc_dtw", "mel_cosine"},
			AdaptiveWeighting:   true,
			HardVoting:          false,
		},
		ECG: ECGConfig{
			Port:            "",
			Baud:            115200,
			SampleRate:      500,
			BPMThreshold:    35,
			BPMRecovery:     45,
			FallbackBPM:     72,
			NoSignalTimeout: 5,
			RetryInterval:   3,
		},
		Templates: TemplatesConfig{
			Dir: "templates",
		},
		Verbose: false,
	}
}

// Load reads a YAML file into a Default() config, tolerating a missing
// file the way speak-to-ai's loader does — a missing config is not an
// error, it just means "use the defaults."
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers pflag overrides for every tunable, mirroring the
// YAML key names (e.g. "vad.silence_ms" -> "--vad-silence-ms"). Call
// pflag.Parse() after BindFlags and before Validate.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Audio.SampleRate, "sample-rate", c.Audio.SampleRate, "target audio sample rate (Hz)")
	fs.IntVar(&c.Audio.ChunkSize, "chunk-size", c.Audio.ChunkSize, "capture chunk size (samples)")
	fs.IntVar(&c.Audio.NFFT, "n-fft", c.Audio.NFFT, "FFT size for MFCC/mel")
	fs.IntVar(&c.Audio.HopLength, "hop-length", c.Audio.HopLength, "frame hop length (samples)")
	fs.IntVar(&c.Audio.NMFCC, "n-mfcc", c.Audio.NMFCC, "number of MFCC coefficients")
	fs.IntVar(&c.Audio.NMels, "n-mels", c.Audio.NMels, "number of mel filterbank bins")
	fs.IntVar(&c.Audio.FMin, "fmin", c.Audio.FMin, "mel filterbank lower bound (Hz)")
	fs.IntVar(&c.Audio.FMax, "fmax", c.Audio.FMax, "mel filterbank upper bound (Hz)")

	fs.Float64Var(&c.VAD.MultLow, "vad-mult-low", c.VAD.MultLow, "VAD low threshold multiplier")
	fs.Float64Var(&c.VAD.MultHigh, "vad-mult-high", c.VAD.MultHigh, "VAD high threshold multiplier")
	fs.IntVar(&c.VAD.MinSpeechMs, "vad-min-speech-ms", c.VAD.MinSpeechMs, "minimum kept speech length (ms)")
	fs.IntVar(&c.VAD.MaxSpeechMs, "vad-max-speech-ms", c.VAD.MaxSpeechMs, "maximum speech length before forced cutoff (ms)")
	fs.IntVar(&c.VAD.SilenceMs, "vad-silence-ms", c.VAD.SilenceMs, "sustained silence before ending a segment (ms)")
	fs.IntVar(&c.VAD.PreRollMs, "vad-pre-roll-ms", c.VAD.PreRollMs, "pre-roll retained before speech onset (ms)")

	fs.IntVar(&c.Match.DTWRadius, "dtw-radius", c.Match.DTWRadius, "Sakoe-Chiba band radius")
	fs.IntVar(&c.Match.LPCOrder, "lpc-order", c.Match.LPCOrder, "LPC prediction order")
	fs.IntVar(&c.Match.LPCFrameMs, "lpc-frame-ms", c.Match.LPCFrameMs, "LPC analysis frame length (ms)")
	fs.IntVar(&c.Match.LPCHopMs, "lpc-hop-ms", c.Match.LPCHopMs, "LPC analysis hop length (ms)")
	fs.IntVar(&c.Match.TemplateFixedFrames, "template-fixed-frames", c.Match.TemplateFixedFrames, "fixed frame count for mel/fast-LPC templates")
	fs.Float64Var(&c.Match.ThresholdMFCCDTW, "threshold-mfcc-dtw", c.Match.ThresholdMFCCDTW, "MFCC-DTW match threshold")
	fs.Float64Var(&c.Match.ThresholdMel, "threshold-mel", c.Match.ThresholdMel, "mel cosine-distance match threshold")
	fs.Float64Var(&c.Match.ThresholdLPC, "threshold-lpc", c.Match.ThresholdLPC, "fast LPC Euclidean match threshold")
	fs.StringSliceVar(&c.Match.Methods, "match-methods", c.Match.Methods, "matcher methods to run, in order")
	fs.BoolVar(&c.Match.AdaptiveWeighting, "adaptive-weighting", c.Match.AdaptiveWeighting, "use SNR-adaptive ensemble weights")
	fs.BoolVar(&c.Match.HardVoting, "hard-voting", c.Match.HardVoting, "use hard (weight-sum) voting instead of soft voting")

	fs.StringVar(&c.ECG.Port, "ecg-port", c.ECG.Port, "serial port for the ECG sensor (empty = auto-detect)")
	fs.IntVar(&c.ECG.Baud, "ecg-baud", c.ECG.Baud, "ECG serial baud rate")
	fs.Float64Var(&c.ECG.SampleRate, "ecg-sample-rate", c.ECG.SampleRate, "expected ECG sample rate (Hz)")
	fs.Float64Var(&c.ECG.BPMThreshold, "ecg-bpm-threshold", c.ECG.BPMThreshold, "BPM below which the adapter drops to fallback")
	fs.Float64Var(&c.ECG.BPMRecovery, "ecg-bpm-recovery", c.ECG.BPMRecovery, "BPM recovery level (not read by the ECG manager, which leaves fallback only on a successful serial reconnect)")
	fs.Float64Var(&c.ECG.FallbackBPM, "ecg-fallback-bpm", c.ECG.FallbackBPM, "synthetic BPM used while in fallback")
	fs.Float64Var(&c.ECG.NoSignalTimeout, "ecg-no-signal-timeout", c.ECG.NoSignalTimeout, "seconds without a confirmed peak before fallback")
	fs.Float64Var(&c.ECG.RetryInterval, "ecg-retry-interval", c.ECG.RetryInterval, "seconds between reconnect attempts while in fallback")

	fs.StringVar(&c.Templates.Dir, "templates-dir", c.Templates.Dir, "directory of command/noise WAV templates")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "enable debug logging")
}

// Validate checks numeric ranges that would otherwise surface as
// confusing runtime panics deep in the DSP code. Failures here are
// programmer errors per the propagation policy: they abort startup.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.NMFCC <= 0 {
		return fmt.Errorf("audio.n_mfcc must be positive, got %d", c.Audio.NMFCC)
	}
	if c.VAD.MinSpeechMs <= 0 || c.VAD.MaxSpeechMs <= c.VAD.MinSpeechMs {
		return fmt.Errorf("vad.min_speech_ms/max_speech_ms out of range: min=%d max=%d", c.VAD.MinSpeechMs, c.VAD.MaxSpeechMs)
	}
	if c.VAD.MultHigh <= c.VAD.MultLow {
		return fmt.Errorf("vad.mult_high (%v) must exceed vad.mult_low (%v)", c.VAD.MultHigh, c.VAD.MultLow)
	}
	if c.Match.DTWRadius <= 0 {
		return fmt.Errorf("match.dtw_radius must be positive, got %d", c.Match.DTWRadius)
	}
	if c.Match.LPCOrder <= 0 {
		return fmt.Errorf("match.lpc_order must be positive, got %d", c.Match.LPCOrder)
	}
	if len(c.Match.Methods) == 0 {
		return fmt.Errorf("match.methods must list at least one method")
	}
	if c.ECG.Baud <= 0 {
		return fmt.Errorf("ecg.baud must be positive, got %d", c.ECG.Baud)
	}
	if c.ECG.FallbackBPM <= 0 {
		return fmt.Errorf("ecg.fallback_bpm must be positive, got %v", c.ECG.FallbackBPM)
	}
	return nil
}
