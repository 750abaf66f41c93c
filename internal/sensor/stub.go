//go:build !linux

package sensor

import (
	"errors"

	"github.com/agrogo-wsu/field-agent/internal/rules"
)

// DHT11 is not available on non-Linux platforms.
type DHT11 struct{}

// NewDHT11 returns an error on non-Linux platforms.
func NewDHT11(pin int) (*DHT11, error) {
	return nil, errors.New("sensor: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (d *DHT11) Read() (rules.Reading, error) {
	return rules.Reading{}, errors.New("sensor: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *DHT11) Close() error { return nil }
