// Package gpio provides digital output control with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Writer drives actuator output pins.
type Writer interface {
	// SetLevel drives a pin HIGH (true) or LOW (false).
	SetLevel(pin int, high bool) error

	// Pins returns the BCM numbers of every controlled pin.
	Pins() []int

	// Close releases GPIO resources, forcing all pins LOW first.
	Close() error
}

// Actuator pin assignments (BCM numbering), matching the field wiring.
const (
	PinFan    = 17 // extraction fan relay
	PinWater1 = 27 // water valve, zone 1
	PinWater2 = 22 // water valve, zone 2
	PinWater3 = 23 // water valve, zone 3
)

// DefaultPins returns the standard set of controlled actuator pins.
func DefaultPins() []int {
	return []int{PinFan, PinWater1, PinWater2, PinWater3}
}
