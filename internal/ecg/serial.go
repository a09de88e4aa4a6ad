package ecg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/ringbuffer"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// arduinoResetWindow is how long a freshly opened port is held before
// closing and reopening for real, giving an Arduino's bootloader time to
// finish the reset that opening its USB-serial port triggers.
const arduinoResetWindow = time.Second

// minPlausibleSample and maxPlausibleSample bound the raw ADC readings a
// parsed line must fall within to be accepted as a sample, matching the
// reference reader's valid-range filter.
const (
	minPlausibleSample = 10.0
	maxPlausibleSample = 1000.0
)

// lineReader accumulates raw serial bytes in a byte ring buffer and
// yields every physiologically plausible float it can parse out of the
// newline-terminated lines now available, retaining any trailing
// partial line for the next feed. Lines that fail to parse, or parse
// outside the plausible range, are dropped silently.
type lineReader struct {
	ring *ringbuffer.RingBuffer
}

func newLineReader(capacity int) *lineReader {
	return &lineReader{ring: ringbuffer.New(capacity)}
}

func (l *lineReader) feed(raw []byte) []float64 {
	if len(raw) > 0 {
		_, _ = l.ring.Write(raw)
	}
	buffered := l.ring.Bytes()
	lastNL := bytes.LastIndexByte(buffered, '\n')
	if lastNL < 0 {
		return nil
	}

	consumed := make([]byte, lastNL+1)
	_, _ = l.ring.Read(consumed)

	var samples []float64
	for _, line := range strings.Split(string(consumed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		if v > minPlausibleSample && v < maxPlausibleSample {
			samples = append(samples, v)
		}
	}
	return samples
}

// openPort opens preferred if given, else enumerates available ports and
// tries them in order, with the first port whose USB product description
// mentions "Arduino" moved to the front. Returns the opened port and the
// device name actually used.
//
// A user-specified preferred port is opened directly: the caller already
// knows what's there. Auto-detected candidates go through the
// connect-test-reconnect handshake (open, wait out the bootloader reset
// window, close, reopen) before being accepted.
func openPort(preferred string, baud int) (serial.Port, string, error) {
	mode := &serial.Mode{BaudRate: baud}

	if preferred != "" {
		p, err := serial.Open(preferred, mode)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", preferred, err)
		}
		return p, preferred, nil
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, "", fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, "", fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, pi := range preferArduino(ports) {
		p, err := autoDetectPort(pi.Name, mode)
		if err != nil {
			lastErr = err
			continue
		}
		return p, pi.Name, nil
	}
	return nil, "", fmt.Errorf("failed to open any of %d candidate ports: %w", len(ports), lastErr)
}

// autoDetectPort runs one candidate through the connect-test-reconnect
// handshake: open, sleep out the Arduino bootloader reset window opening
// the port triggers, close, then reopen for real and clear whatever the
// bootloader chatter left in the input buffer.
func autoDetectPort(name string, mode *serial.Mode) (serial.Port, error) {
	test, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	time.Sleep(arduinoResetWindow)
	_ = test.Close()

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("reopen %s: %w", name, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("reset input buffer on %s: %w", name, err)
	}
	return p, nil
}

// preferArduino reorders ports so one whose product name mentions
// "Arduino" is tried first, mirroring the auto-detect handshake.
func preferArduino(ports []*enumerator.PortDetails) []*enumerator.PortDetails {
	out := make([]*enumerator.PortDetails, 0, len(ports))
	var arduino *enumerator.PortDetails
	for _, p := range ports {
		if arduino == nil && strings.Contains(strings.ToLower(p.Product), "arduino") {
			arduino = p
			continue
		}
		out = append(out, p)
	}
	if arduino != nil {
		out = append([]*enumerator.PortDetails{arduino}, out...)
	}
	return out
}
