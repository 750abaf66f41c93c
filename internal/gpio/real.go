//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives GPIO outputs on actual hardware using the Linux
// GPIO character device.
type RealWriter struct {
	chip  *gpiocdev.Chip
	pins  []int
	lines map[int]*gpiocdev.Line
}

// NewRealWriter requests the given pins as outputs, initially LOW.
// Valves and relays must never glitch HIGH at startup, so any failure
// mid-setup releases every line already requested.
func NewRealWriter(pins []int) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines := make(map[int]*gpiocdev.Line, len(pins))
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			for _, l := range lines {
				l.Close()
			}
			chip.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		lines[pin] = line
	}

	return &RealWriter{
		chip:  chip,
		pins:  append([]int(nil), pins...),
		lines: lines,
	}, nil
}

// SetLevel drives a pin HIGH (true) or LOW (false).
func (w *RealWriter) SetLevel(pin int, high bool) error {
	line, ok := w.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not configured as output", pin)
	}

	value := 0
	if high {
		value = 1
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Pins returns the configured output pins.
func (w *RealWriter) Pins() []int {
	return append([]int(nil), w.pins...)
}

// Close forces every pin LOW and releases GPIO resources. The LOW
// write happens before release so no actuator stays energized across
// a restart.
func (w *RealWriter) Close() error {
	var errs []error

	for pin, line := range w.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("lower pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
