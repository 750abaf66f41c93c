// Package sensor reads the DHT11 temperature/humidity sensor with
// hardware abstraction. The real implementation bit-bangs the DHT
// protocol over the Linux GPIO character device; the fake returns
// scripted readings for tests.
package sensor

import "github.com/agrogo-wsu/field-agent/internal/rules"

// DefaultDataPin is the BCM pin wired to the DHT11 data line.
const DefaultDataPin = 15

// Reader reads the ambient sensor.
type Reader interface {
	// Read returns the current reading. An error means no usable
	// reading was obtained; callers treat the cycle as "not measured"
	// and carry on.
	Read() (rules.Reading, error)

	// Close releases sensor resources.
	Close() error
}
