// Package status provides a thread-safe status tracker for the
// field-agent daemon. It is read by HTTP handlers and feeds the MQTT
// lifecycle event payloads.
package status

import (
	"sync"
	"time"

	"github.com/agrogo-wsu/field-agent/internal/rules"
)

// Config contains daemon configuration for display.
type Config struct {
	SamplingSec int64
	RefetchSec  int64
	Broker      string
	HTTPAddr    string
	ConfigPath  string
	Timezone    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	DeviceID      string
	Paired        bool
	PinLevels     map[int]bool
	LastReading   rules.Reading
	ReadingAt     time.Time
	TableEntries  int
	LastFetch     time.Time
	Activations   int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			PinLevels: make(map[int]bool),
		},
	}
}

// SetIdentity records the device id and pairing state.
func (t *Tracker) SetIdentity(deviceID string, paired bool) {
	t.mu.Lock()
	t.snap.DeviceID = deviceID
	t.snap.Paired = paired
	t.mu.Unlock()
}

// SetPinLevels replaces the tracked actuator levels.
// Called from the loop on every cycle.
func (t *Tracker) SetPinLevels(levels map[int]bool) {
	t.mu.Lock()
	t.snap.PinLevels = levels
	t.mu.Unlock()
}

// SetReading records the latest sensor reading and when it was taken.
func (t *Tracker) SetReading(r rules.Reading, at time.Time) {
	t.mu.Lock()
	t.snap.LastReading = r
	t.snap.ReadingAt = at
	t.mu.Unlock()
}

// SetTable records the size of the current action table and the time
// of the last successful fetch.
func (t *Tracker) SetTable(entries int, fetchedAt time.Time) {
	t.mu.Lock()
	t.snap.TableEntries = entries
	t.snap.LastFetch = fetchedAt
	t.mu.Unlock()
}

// AddActivation counts one dispatched actuation.
func (t *Tracker) AddActivation() {
	t.mu.Lock()
	t.snap.Activations++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	levels := make(map[int]bool, len(t.snap.PinLevels))
	for pin, high := range t.snap.PinLevels {
		levels[pin] = high
	}
	t.mu.RUnlock()

	s.PinLevels = levels
	s.Now = time.Now()
	return s
}
