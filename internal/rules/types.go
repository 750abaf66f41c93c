// Package rules contains the pin action table data model and the
// trigger evaluation logic that decides when actuators fire.
// This package has NO external dependencies (no GPIO, HTTP, or
// time.Sleep). Time is always injectable via time.Time parameters.
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TriggerKind identifies a sensor-based trigger condition.
type TriggerKind string

const (
	TempAbove     TriggerKind = "temp_above"
	TempBelow     TriggerKind = "temp_below"
	HumidityAbove TriggerKind = "humidity_above"
	HumidityBelow TriggerKind = "humidity_below"
)

// DefaultDuration is the activation duration, in seconds, applied when
// an entry carries no usable duration.
const DefaultDuration = 60

// Entry is one rule in the pin action table. An entry may carry a
// scheduled time and a sensor trigger at the same time; each is
// evaluated independently and either may fire the pin.
type Entry struct {
	// Kind tags the actuator class ("fan", "water", ...). Open set —
	// the agent only uses it for ledger keys and event payloads.
	Kind string

	// Pin is the actuator identifier (BCM number on the Pi).
	Pin int

	// ScheduledTime is an optional "HH:MM" daily activation time in
	// the device's configured timezone. Empty means unscheduled.
	ScheduledTime string

	// Duration is how long the pin stays HIGH once fired, in seconds.
	Duration int

	// Trigger and Threshold describe an optional sensor condition.
	// Threshold is nil when the entry has no trigger.
	Trigger   TriggerKind
	Threshold *float64

	// CooldownSec overrides the minimum spacing between consecutive
	// trigger fires. Nil means max(60, Duration).
	CooldownSec *int
}

// ActiveFor returns the activation duration.
func (e Entry) ActiveFor() time.Duration {
	return time.Duration(e.Duration) * time.Second
}

// Cooldown returns the minimum interval between consecutive sensor
// trigger fires of this entry: the explicit cooldown when present,
// otherwise max(60s, Duration).
func (e Entry) Cooldown() time.Duration {
	if e.CooldownSec != nil {
		return time.Duration(*e.CooldownSec) * time.Second
	}
	secs := e.Duration
	if secs < DefaultDuration {
		secs = DefaultDuration
	}
	return time.Duration(secs) * time.Second
}

// Equal reports structural equality with another entry.
func (e Entry) Equal(other Entry) bool {
	if e.Kind != other.Kind || e.Pin != other.Pin ||
		e.ScheduledTime != other.ScheduledTime || e.Duration != other.Duration ||
		e.Trigger != other.Trigger {
		return false
	}
	if !floatPtrEqual(e.Threshold, other.Threshold) {
		return false
	}
	if (e.CooldownSec == nil) != (other.CooldownSec == nil) {
		return false
	}
	if e.CooldownSec != nil && *e.CooldownSec != *other.CooldownSec {
		return false
	}
	return true
}

func floatPtrEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// Table is the ordered pin action table. It is replaced wholesale on
// every successful config refresh, never merged entry by entry.
type Table []Entry

// Equal reports order-sensitive structural equality. A reordered table
// counts as changed.
func (t Table) Equal(other Table) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if !t[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// entryWire is the backend JSON shape for one entry.
type entryWire struct {
	Type     string          `json:"type"`
	Pin      json.RawMessage `json:"pin"`
	Time     string          `json:"time,omitempty"`
	Duration json.RawMessage `json:"duration,omitempty"`
	Trigger  string          `json:"trigger,omitempty"`
	Value    *float64        `json:"value,omitempty"`
	Cooldown json.RawMessage `json:"cooldown,omitempty"`
}

// UnmarshalJSON decodes the backend wire format. Malformed numeric
// fields fall back to defaults instead of failing the whole entry;
// only a missing or unusable pin makes the entry invalid.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	pin, ok := intFromRaw(w.Pin)
	if !ok {
		return fmt.Errorf("entry %q: missing or non-numeric pin", w.Type)
	}

	duration, ok := intFromRaw(w.Duration)
	if !ok || duration < 0 {
		duration = DefaultDuration
	}

	e.Kind = w.Type
	e.Pin = pin
	e.ScheduledTime = w.Time
	e.Duration = duration
	e.Trigger = TriggerKind(w.Trigger)
	e.Threshold = w.Value
	e.CooldownSec = nil
	if cooldown, ok := intFromRaw(w.Cooldown); ok && cooldown >= 0 {
		e.CooldownSec = &cooldown
	}
	return nil
}

// MarshalJSON emits the backend wire format so the table round-trips
// through the persisted config document.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := entryWire{
		Type:    e.Kind,
		Pin:     json.RawMessage(strconv.Itoa(e.Pin)),
		Time:    e.ScheduledTime,
		Trigger: string(e.Trigger),
		Value:   e.Threshold,
	}
	w.Duration = json.RawMessage(strconv.Itoa(e.Duration))
	if e.CooldownSec != nil {
		w.Cooldown = json.RawMessage(strconv.Itoa(*e.CooldownSec))
	}
	return json.Marshal(w)
}

// DecodeTable parses a pin action table payload. Entries that cannot
// be decoded are skipped and reported individually; one bad entry does
// not discard the rest of the table.
func DecodeTable(data []byte) (Table, []error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, []error{fmt.Errorf("decode action table: %w", err)}
	}

	var table Table
	var errs []error
	for i, raw := range raws {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		table = append(table, e)
	}
	return table, errs
}

// intFromRaw reads an integer that the backend may send as a JSON
// number, a float, or a quoted numeric string.
func intFromRaw(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return int(v), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// Reading is one temperature/humidity sample. A nil field means the
// value was not measured this cycle, which disables any trigger that
// depends on it.
type Reading struct {
	Temperature *float64
	Humidity    *float64
}

// Empty reports whether the reading carries no measured values.
func (r Reading) Empty() bool {
	return r.Temperature == nil && r.Humidity == nil
}
