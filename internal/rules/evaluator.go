package rules

import (
	"fmt"
	"time"
)

// Evaluator decides whether table entries fire, tracking previous
// fires in a ledger so rules do not retrigger inside their window.
//
// The ledger is owned by the evaluator instance — one per control
// loop — so independent evaluators never share state. Keys are never
// evicted; they live for the life of the process, and a restart may
// let a rule refire before its window elapsed. That is accepted.
//
// Not safe for concurrent use. The control loop is the only caller.
type Evaluator struct {
	loc    *time.Location
	ledger map[string]time.Time
}

// NewEvaluator creates an evaluator that matches scheduled times in
// the given timezone. A nil location falls back to the system local
// zone.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{
		loc:    loc,
		ledger: make(map[string]time.Time),
	}
}

// EvaluateSchedule reports whether the entry's scheduled time matches
// now. A true return claims the current calendar minute for this
// rule: repeated polls within the minute return false, and the rule
// re-arms once the wall clock leaves the minute it last fired in.
//
// The match is exact on HH:MM, so callers must poll at least once per
// minute or matches can be missed.
func (ev *Evaluator) EvaluateSchedule(e Entry, now time.Time) bool {
	if e.ScheduledTime == "" {
		return false
	}
	if now.In(ev.loc).Format("15:04") != e.ScheduledTime {
		return false
	}

	key := scheduleKey(e)
	if last, ok := ev.ledger[key]; ok && last.Unix()/60 == now.Unix()/60 {
		return false
	}
	ev.ledger[key] = now
	return true
}

// EvaluateSensorTrigger reports whether the entry's sensor condition
// holds for the reading. Comparisons are strict: a value exactly equal
// to the threshold never fires. A true return claims now as the last
// fire time; the rule re-arms once the cooldown has fully elapsed
// (elapsed == cooldown fires again).
func (ev *Evaluator) EvaluateSensorTrigger(e Entry, r Reading, now time.Time) bool {
	if e.Trigger == "" || e.Threshold == nil {
		return false
	}

	condition := false
	switch e.Trigger {
	case TempAbove:
		condition = r.Temperature != nil && *r.Temperature > *e.Threshold
	case TempBelow:
		condition = r.Temperature != nil && *r.Temperature < *e.Threshold
	case HumidityAbove:
		condition = r.Humidity != nil && *r.Humidity > *e.Threshold
	case HumidityBelow:
		condition = r.Humidity != nil && *r.Humidity < *e.Threshold
	}
	if !condition {
		return false
	}

	key := sensorKey(e)
	if last, ok := ev.ledger[key]; ok && now.Sub(last) < e.Cooldown() {
		return false
	}
	ev.ledger[key] = now
	return true
}

// LedgerSize returns the number of recorded rule fires. Ledger keys
// are never evicted, so this only ever grows.
func (ev *Evaluator) LedgerSize() int {
	return len(ev.ledger)
}

// scheduleKey identifies a scheduled rule: same kind, pin and time of
// day means same rule, however the table is refreshed.
func scheduleKey(e Entry) string {
	return fmt.Sprintf("scheduled:%s:%d:%s", e.Kind, e.Pin, e.ScheduledTime)
}

// sensorKey identifies a sensor trigger rule, threshold included, so
// a re-tuned threshold counts as a fresh rule.
func sensorKey(e Entry) string {
	return fmt.Sprintf("sensor:%s:%d:%s:%g", e.Kind, e.Pin, e.Trigger, *e.Threshold)
}
