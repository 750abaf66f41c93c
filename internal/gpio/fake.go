package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Transition records a single level change on a pin.
type Transition struct {
	Pin  int
	High bool
	At   time.Time
}

// FakeWriter is a test double that records every level write.
// Unlike the hardware driver it is safe for concurrent use without
// external locking, because activation tasks call it from their own
// goroutines and tests inspect it while they run.
type FakeWriter struct {
	mu sync.Mutex

	pins        []int
	levels      map[int]bool
	transitions []Transition
	failHigh    bool

	// SetError, if set, will be returned by every SetLevel call.
	// Set it before handing the writer to concurrent code.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeWriter creates a FakeWriter controlling the given pins.
func NewFakeWriter(pins []int) *FakeWriter {
	levels := make(map[int]bool, len(pins))
	for _, pin := range pins {
		levels[pin] = false
	}
	return &FakeWriter{
		pins:   append([]int(nil), pins...),
		levels: levels,
	}
}

// SetLevel records the transition and updates the tracked level.
func (f *FakeWriter) SetLevel(pin int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	if high && f.failHigh {
		return fmt.Errorf("pin %d raise failed", pin)
	}
	if _, ok := f.levels[pin]; !ok {
		return fmt.Errorf("pin %d not configured", pin)
	}

	f.levels[pin] = high
	f.transitions = append(f.transitions, Transition{Pin: pin, High: high, At: time.Now()})
	return nil
}

// SetFailHigh makes every HIGH write fail while LOW writes still
// succeed. Guarded by the writer's mutex, so it may be toggled while
// activation goroutines are running.
func (f *FakeWriter) SetFailHigh(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failHigh = fail
}

// Pins returns the configured pins.
func (f *FakeWriter) Pins() []int {
	return append([]int(nil), f.pins...)
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Level returns the current level of a pin.
func (f *FakeWriter) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Transitions returns a copy of all recorded transitions in order.
func (f *FakeWriter) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transition(nil), f.transitions...)
}

// TransitionsFor returns the recorded transitions for one pin.
func (f *FakeWriter) TransitionsFor(pin int) []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Transition
	for _, tr := range f.transitions {
		if tr.Pin == pin {
			out = append(out, tr)
		}
	}
	return out
}

// Reset clears recorded transitions and lowers every pin.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transitions = nil
	f.Closed = false
	f.SetError = nil
	f.failHigh = false
	for pin := range f.levels {
		f.levels[pin] = false
	}
}
