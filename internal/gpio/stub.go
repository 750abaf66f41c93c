//go:build !linux

package gpio

import "errors"

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(pins []int) (*RealWriter, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetLevel is not implemented on non-Linux platforms.
func (w *RealWriter) SetLevel(pin int, high bool) error {
	return errors.New("gpio: not supported")
}

// Pins is not implemented on non-Linux platforms.
func (w *RealWriter) Pins() []int { return nil }

// Close is not implemented on non-Linux platforms.
func (w *RealWriter) Close() error { return nil }
