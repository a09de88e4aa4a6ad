// Command biovoice runs the combined ECG/voice event pipeline: it wires
// configuration, logging, the event bus, the ECG manager, and the voice
// controller together and blocks until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/richkung/bio-arcade/internal/bus"
	"github.com/richkung/bio-arcade/internal/config"
	"github.com/richkung/bio-arcade/internal/ecg"
	"github.com/richkung/bio-arcade/internal/voice"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var configPath string
	var freedomMode bool
	fs := pflag.NewFlagSet("biovoice", pflag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "path to a YAML configuration file (optional)")
	fs.BoolVar(&freedomMode, "freedom-mode", false, "skip the shipped template bank; calibration captures replace templates directly")

	// --config must be resolved before the YAML file is loaded, so parse
	// once with the bare flag set first, ignoring the tunable flags it
	// does not know yet; BindFlags below adds every tunable to the same
	// flag set and the second Parse re-applies the same arguments.
	fs.ParseErrorsWhitelist.UnknownFlags = true
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.BindFlags(fs)
	fs.ParseErrorsWhitelist.UnknownFlags = false
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel := log.InfoLevel
	if cfg.Verbose {
		logLevel = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: logLevel, ReportTimestamp: true})

	eventBus := bus.New(logger, 256)
	eventBus.Subscribe(bus.VoiceCommand, func(e bus.Event) {
		logger.Info("game action", "command", e.Data["command"], "action", e.Data["action"])
	})
	eventBus.Subscribe(bus.ECGPeak, func(e bus.Event) {
		logger.Debug("heartbeat", "bpm", e.Data["bpm"], "dir", e.Data["dir"])
	})
	eventBus.Start()
	defer eventBus.Stop()

	ecgManager := ecg.New(logger, eventBus, cfg.ECG)
	if err := ecgManager.Start(); err != nil {
		return fmt.Errorf("start ECG manager: %w", err)
	}
	defer ecgManager.Stop()

	voiceController, err := voice.New(logger, eventBus, cfg, freedomMode)
	if err != nil {
		return fmt.Errorf("create voice controller: %w", err)
	}
	if err := voiceController.Start(); err != nil {
		logger.Error("voice controller failed to start, continuing without voice input", "err", err)
	} else {
		defer voiceController.Stop()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())
	return nil
}
