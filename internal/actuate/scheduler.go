// Package actuate drives actuator pins HIGH for bounded durations.
package actuate

import (
	"log"
	"sync"
	"time"

	"github.com/agrogo-wsu/field-agent/internal/gpio"
)

// Scheduler runs pin activations as independent goroutines so the
// control loop never blocks on an actuator duration.
//
// One mutex guards the instant of each level write, not the whole
// activation: the wait between HIGH and LOW happens outside the lock,
// so unrelated pins can be active at the same time while individual
// hardware writes stay serialized.
//
// Overlapping activations of the same pin are not merged or refused.
// The second activation drives the pin HIGH again and the two LOW
// resets race; whichever runs last wins. This matches the deployed
// controller behavior.
type Scheduler struct {
	mu     sync.Mutex
	writer gpio.Writer
	levels map[int]bool

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewScheduler creates a Scheduler driving the given output writer.
func NewScheduler(writer gpio.Writer) *Scheduler {
	return &Scheduler{
		writer: writer,
		levels: make(map[int]bool),
		sleep:  time.Sleep,
	}
}

// Activate drives pin HIGH for the given duration on its own
// goroutine and returns immediately. The returned channel closes once
// the pin has been reset LOW, which happens unconditionally — a
// failed HIGH write is logged and the LOW reset still runs.
func (s *Scheduler) Activate(pin int, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer s.lower(pin, duration)

		s.mu.Lock()
		err := s.writer.SetLevel(pin, true)
		if err == nil {
			s.levels[pin] = true
		}
		s.mu.Unlock()

		if err != nil {
			log.Printf("actuate: set pin %d HIGH: %v", pin, err)
		} else {
			log.Printf("actuate: pin %d HIGH for %v", pin, duration)
		}

		// Outside the lock so other pins can activate during the wait.
		s.sleep(duration)
	}()

	return done
}

// lower resets a pin LOW at the end of its activation. Errors are
// logged, never propagated; the tracked level is cleared either way
// so shutdown still attempts the pin again.
func (s *Scheduler) lower(pin int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.SetLevel(pin, false); err != nil {
		log.Printf("actuate: set pin %d LOW: %v", pin, err)
	} else {
		log.Printf("actuate: pin %d LOW after %v", pin, duration)
	}
	s.levels[pin] = false
}

// ForceAllLow drives every controlled pin LOW. Called on shutdown so
// no actuator stays energized; best-effort, errors are logged. Tasks
// mid-sleep may briefly re-raise a pin before their own LOW reset —
// shutdown callers should close the writer right after.
func (s *Scheduler) ForceAllLow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pin := range s.writer.Pins() {
		if err := s.writer.SetLevel(pin, false); err != nil {
			log.Printf("actuate: force pin %d LOW: %v", pin, err)
		}
		s.levels[pin] = false
	}
}

// Levels returns a copy of the tracked pin levels.
func (s *Scheduler) Levels() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]bool, len(s.levels))
	for pin, high := range s.levels {
		out[pin] = high
	}
	return out
}
