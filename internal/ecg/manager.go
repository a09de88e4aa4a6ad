package ecg

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.bug.st/serial"

	"github.com/richkung/bio-arcade/internal/bus"
	"github.com/richkung/bio-arcade/internal/config"
)

type acqState int

const (
	stateReal acqState = iota
	stateFallback
)

const (
	ma1Window          = 8
	serialReadTimeout  = 50 * time.Millisecond
	serialReadChunkLen = 256
	serialBufferBytes  = 4096
	pacingSleep        = time.Millisecond
)

// Manager drives ECG acquisition through a two-state machine: REAL reads
// and filters live serial samples; FALLBACK emits a steady synthetic
// heartbeat so downstream consumers never see a gap in the event
// stream. It owns the filter chain and detector, both of which are
// strictly single-threaded state belonging to the processing goroutine.
type Manager struct {
	log *log.Logger
	bus *bus.Bus
	cfg config.ECGConfig

	chain    *FilterChain
	detector *Detector
	reader   *lineReader
	fallback *fallbackGenerator

	port     serial.Port
	portName string
	state    acqState

	lastPeakTime    time.Time
	lastRetryTime   time.Time
	lastFallbackGen time.Time

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a manager for the given configuration. It does not attempt
// to connect until Start is called.
func New(logger *log.Logger, b *bus.Bus, cfg config.ECGConfig) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	mwiWindow := int(0.150 * cfg.SampleRate)
	return &Manager{
		log:      logger.With("component", "ecg"),
		bus:      b,
		cfg:      cfg,
		chain:    NewFilterChain(cfg.SampleRate, ma1Window, mwiWindow),
		detector: NewDetector(cfg.SampleRate),
		reader:   newLineReader(serialBufferBytes),
		fallback: newFallbackGenerator(cfg.SampleRate, cfg.FallbackBPM),
		state:    stateFallback,
	}
}

// Start attempts to open the configured (or auto-detected) serial port.
// Success enters REAL; failure enters FALLBACK immediately and the
// manager retries the real connection every cfg.RetryInterval seconds.
// Start never returns an error: a failed serial open is the expected,
// recoverable path into FALLBACK, and a call while already running is a
// no-op.
func (m *Manager) Start() error {
	if m.running {
		return nil
	}
	now := time.Now()
	m.lastPeakTime = now
	m.lastRetryTime = now
	m.lastFallbackGen = now

	if err := m.tryConnect(); err != nil {
		m.log.Warn("ECG serial connect failed, starting in fallback mode", "err", err, "fallback_bpm", m.cfg.FallbackBPM)
	}

	m.running = true
	m.stopChan = make(chan struct{})
	m.wg.Add(1)
	go m.processingLoop()
	return nil
}

// Stop halts the processing goroutine and releases the serial port.
func (m *Manager) Stop() {
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
	m.wg.Wait()
	if m.port != nil {
		_ = m.port.Close()
		m.port = nil
	}
}

func (m *Manager) tryConnect() error {
	port, name, err := openPort(m.cfg.Port, m.cfg.Baud)
	if err != nil {
		m.state = stateFallback
		return err
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		m.state = stateFallback
		return err
	}
	m.port = port
	m.portName = name
	m.state = stateReal
	m.lastPeakTime = time.Now()
	m.log.Info("connected to ECG serial port", "port", name)
	return nil
}

func (m *Manager) processingLoop() {
	defer m.wg.Done()
	buf := make([]byte, serialReadChunkLen)
	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		switch m.state {
		case stateReal:
			m.processReal(buf)
		case stateFallback:
			m.processFallback()
			m.maybeRetryReal()
		}
		time.Sleep(pacingSleep)
	}
}

func (m *Manager) maybeRetryReal() {
	if time.Since(m.lastRetryTime).Seconds() < m.cfg.RetryInterval {
		return
	}
	m.lastRetryTime = time.Now()
	if err := m.tryConnect(); err == nil {
		m.log.Info("recovered real ECG connection", "port", m.portName)
	}
}

func (m *Manager) processReal(buf []byte) {
	n, err := m.port.Read(buf)
	if err != nil {
		m.log.Warn("ECG serial read failed, switching to fallback", "err", err)
		m.enterFallback()
		return
	}

	samples := m.reader.feed(buf[:n])
	if len(samples) == 0 {
		m.checkSignalTimeout()
		return
	}

	display, mwi := m.chain.Step(samples)
	peaks := m.detector.Process(display, mwi)
	if len(peaks) == 0 {
		m.checkSignalTimeout()
		return
	}

	for _, p := range peaks {
		m.lastPeakTime = time.Now()
		m.publishPeak(p)
		if p.BPMUpdated && p.BPM < m.cfg.BPMThreshold {
			m.log.Warn("ECG BPM below threshold, switching to fallback", "bpm", p.BPM, "threshold", m.cfg.BPMThreshold)
			m.enterFallback()
			return
		}
	}
}

func (m *Manager) checkSignalTimeout() {
	if time.Since(m.lastPeakTime).Seconds() > m.cfg.NoSignalTimeout {
		m.log.Warn("no ECG signal within timeout, switching to fallback", "timeout_s", m.cfg.NoSignalTimeout)
		m.enterFallback()
	}
}

func (m *Manager) enterFallback() {
	m.state = stateFallback
	if m.port != nil {
		_ = m.port.Close()
		m.port = nil
	}
	now := time.Now()
	m.lastRetryTime = now
	m.lastFallbackGen = now
}

// processFallback paces synthetic sample generation to wall-clock time
// so the fallback waveform runs at the configured sample rate
// regardless of the processing loop's tick interval, then runs those
// samples through the same filter chain and detector real samples use —
// fallback peaks and BPM are genuine detector output, not a separately
// scripted event payload.
func (m *Manager) processFallback() {
	elapsed := time.Since(m.lastFallbackGen).Seconds()
	n := int(elapsed * m.cfg.SampleRate)
	if n <= 0 {
		return
	}
	m.lastFallbackGen = m.lastFallbackGen.Add(time.Duration(float64(n) / m.cfg.SampleRate * float64(time.Second)))

	samples := m.fallback.next(n)
	display, mwi := m.chain.Step(samples)
	for _, p := range m.detector.Process(display, mwi) {
		m.publishPeak(p)
	}
}

func (m *Manager) publishPeak(p Peak) {
	m.bus.Publish(bus.ECGPeak, map[string]any{
		"dir":   p.Dir,
		"value": p.Value,
		"bpm":   p.BPM,
	})
	if p.BPMUpdated {
		m.bus.Publish(bus.ECGBPMUpdate, map[string]any{"bpm": p.BPM})
	}
}
