//go:build linux

package sensor

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/agrogo-wsu/field-agent/internal/rules"
)

const (
	// The DHT11 misreads routinely; retry like the vendor helper does.
	maxAttempts = 5
	retryDelay  = 2 * time.Second

	// A high pulse longer than this is a 1 bit (~70us vs ~26us).
	oneBitThreshold = 50 * time.Microsecond
)

// DHT11 reads a DHT11 sensor on a single GPIO data line.
type DHT11 struct {
	chip *gpiocdev.Chip
	pin  int
}

// NewDHT11 opens the GPIO chip for a DHT11 on the given data pin.
func NewDHT11(pin int) (*DHT11, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &DHT11{chip: chip, pin: pin}, nil
}

// Read samples the sensor, retrying a few times before giving up.
// The DHT11 cannot be sampled faster than once per second, so
// attempts are spaced out.
func (d *DHT11) Read() (rules.Reading, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}
		reading, err := d.readOnce()
		if err == nil {
			return reading, nil
		}
		lastErr = err
	}
	return rules.Reading{}, fmt.Errorf("dht11: %w", lastErr)
}

// readOnce performs one DHT11 transaction: hold the line low ~18ms as
// the start signal, release it, then decode the 40 data bits from the
// width of the high pulses the sensor sends back.
func (d *DHT11) readOnce() (rules.Reading, error) {
	// Start signal.
	out, err := d.chip.RequestLine(d.pin, gpiocdev.AsOutput(1))
	if err != nil {
		return rules.Reading{}, fmt.Errorf("request data line: %w", err)
	}
	out.SetValue(0)
	time.Sleep(18 * time.Millisecond)
	out.Close()

	// Switch to input and capture edges. The kernel stamps each event,
	// which is far more reliable than polling from userspace.
	events := make(chan gpiocdev.LineEvent, 128)
	in, err := d.chip.RequestLine(d.pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(ev gpiocdev.LineEvent) {
			select {
			case events <- ev:
			default:
			}
		}))
	if err != nil {
		return rules.Reading{}, fmt.Errorf("request data line for read: %w", err)
	}
	defer in.Close()

	highs := collectHighPulses(events, 100*time.Millisecond)
	if len(highs) < 40 {
		return rules.Reading{}, fmt.Errorf("short read: %d pulses", len(highs))
	}

	// The transfer ends with the 40 data bits; earlier pulses are the
	// sensor's response preamble.
	return decodeBits(highs[len(highs)-40:])
}

// collectHighPulses pairs rising/falling edges into high-pulse widths
// until the line has been quiet for the full transfer window.
func collectHighPulses(events <-chan gpiocdev.LineEvent, window time.Duration) []time.Duration {
	var highs []time.Duration
	var rise time.Duration
	haveRise := false

	deadline := time.After(window)
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case gpiocdev.LineEventRisingEdge:
				rise = ev.Timestamp
				haveRise = true
			case gpiocdev.LineEventFallingEdge:
				if haveRise {
					highs = append(highs, ev.Timestamp-rise)
					haveRise = false
				}
			}
		case <-deadline:
			return highs
		}
	}
}

// decodeBits converts 40 high-pulse widths into a reading, verifying
// the trailing checksum byte.
func decodeBits(bits []time.Duration) (rules.Reading, error) {
	var data [5]byte
	for i, width := range bits {
		data[i/8] <<= 1
		if width > oneBitThreshold {
			data[i/8] |= 1
		}
	}

	sum := data[0] + data[1] + data[2] + data[3]
	if sum != data[4] {
		return rules.Reading{}, fmt.Errorf("checksum mismatch: %#x != %#x", sum, data[4])
	}

	// DHT11 integral parts: humidity in data[0], temperature in
	// data[2]; the fractional bytes are tenths.
	humidity := float64(data[0]) + float64(data[1])/10
	temperature := float64(data[2]) + float64(data[3])/10

	return rules.Reading{
		Temperature: &temperature,
		Humidity:    &humidity,
	}, nil
}

// Close releases the GPIO chip.
func (d *DHT11) Close() error {
	if d.chip != nil {
		return d.chip.Close()
	}
	return nil
}
