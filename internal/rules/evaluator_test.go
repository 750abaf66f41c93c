package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	require.NoError(t, err)
	return ts
}

func floatPtr(v float64) *float64 { return &v }

func TestEvaluateScheduleFiresOncePerMinute(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	entry := Entry{Kind: "fan", Pin: 17, ScheduledTime: "06:00", Duration: 300}

	// 06:00:00 fires once.
	assert.True(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 06:00:00")))

	// Polls later in the same minute do not refire.
	assert.False(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 06:00:30")))
	assert.False(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 06:00:59")))

	// Next minute no longer matches "06:00".
	assert.False(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 06:01:00")))

	// Next day it fires again.
	assert.True(t, ev.EvaluateSchedule(entry, at(t, "2026-05-02 06:00:10")))
}

func TestEvaluateScheduleNoTime(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	entry := Entry{Kind: "fan", Pin: 17, Duration: 60}
	assert.False(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 06:00:00")))
}

func TestEvaluateScheduleTimezone(t *testing.T) {
	est, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ev := NewEvaluator(est)
	entry := Entry{Kind: "fan", Pin: 17, ScheduledTime: "06:00", Duration: 60}

	// 10:00 UTC is 06:00 in New York (EDT).
	assert.True(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 10:00:00")))
	assert.False(t, ev.EvaluateSchedule(entry, at(t, "2026-05-01 06:00:00")))
}

func TestEvaluateScheduleDistinctKeys(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	fan := Entry{Kind: "fan", Pin: 17, ScheduledTime: "06:00", Duration: 60}
	water := Entry{Kind: "water", Pin: 27, ScheduledTime: "06:00", Duration: 60}

	now := at(t, "2026-05-01 06:00:00")
	assert.True(t, ev.EvaluateSchedule(fan, now))
	// A different rule at the same time is not blocked by fan's claim.
	assert.True(t, ev.EvaluateSchedule(water, now))
	assert.Equal(t, 2, ev.LedgerSize())
}

func TestEvaluateSensorTriggerCooldown(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	// Cooldown defaults to max(60, 120) = 120s.
	entry := Entry{Kind: "fan", Pin: 17, Trigger: TempAbove, Threshold: floatPtr(30.0), Duration: 120}

	start := at(t, "2026-05-01 12:00:00")

	assert.True(t, ev.EvaluateSensorTrigger(entry, Reading{Temperature: floatPtr(31)}, start))

	// 60s later: condition holds but cooldown has not elapsed.
	assert.False(t, ev.EvaluateSensorTrigger(entry, Reading{Temperature: floatPtr(32)}, start.Add(60*time.Second)))

	// Exactly at the boundary the rule re-arms.
	assert.True(t, ev.EvaluateSensorTrigger(entry, Reading{Temperature: floatPtr(33)}, start.Add(120*time.Second)))
}

func TestEvaluateSensorTriggerStrictComparison(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	now := at(t, "2026-05-01 12:00:00")

	above := Entry{Kind: "fan", Pin: 17, Trigger: TempAbove, Threshold: floatPtr(30.0), Duration: 60}
	assert.False(t, ev.EvaluateSensorTrigger(above, Reading{Temperature: floatPtr(30.0)}, now))
	assert.True(t, ev.EvaluateSensorTrigger(above, Reading{Temperature: floatPtr(30.01)}, now))

	below := Entry{Kind: "water", Pin: 27, Trigger: HumidityBelow, Threshold: floatPtr(40.0), Duration: 60}
	assert.False(t, ev.EvaluateSensorTrigger(below, Reading{Humidity: floatPtr(40.0)}, now))
	assert.True(t, ev.EvaluateSensorTrigger(below, Reading{Humidity: floatPtr(39.9)}, now))
}

func TestEvaluateSensorTriggerConditionTable(t *testing.T) {
	now := at(t, "2026-05-01 12:00:00")

	cases := []struct {
		name    string
		trigger TriggerKind
		reading Reading
		want    bool
	}{
		{"temp above fires", TempAbove, Reading{Temperature: floatPtr(35)}, true},
		{"temp above holds", TempAbove, Reading{Temperature: floatPtr(25)}, false},
		{"temp below fires", TempBelow, Reading{Temperature: floatPtr(25)}, true},
		{"temp below holds", TempBelow, Reading{Temperature: floatPtr(35)}, false},
		{"humidity above fires", HumidityAbove, Reading{Humidity: floatPtr(35)}, true},
		{"humidity below fires", HumidityBelow, Reading{Humidity: floatPtr(25)}, true},
		{"unknown trigger", TriggerKind("pressure_above"), Reading{Temperature: floatPtr(35)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := NewEvaluator(time.UTC)
			entry := Entry{Kind: "fan", Pin: 17, Trigger: tc.trigger, Threshold: floatPtr(30.0), Duration: 60}
			assert.Equal(t, tc.want, ev.EvaluateSensorTrigger(entry, tc.reading, now))
		})
	}
}

func TestEvaluateSensorTriggerMissingReading(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	now := at(t, "2026-05-01 12:00:00")

	entry := Entry{Kind: "fan", Pin: 17, Trigger: TempAbove, Threshold: floatPtr(30.0), Duration: 60}

	// No temperature measured this cycle: trigger disabled.
	assert.False(t, ev.EvaluateSensorTrigger(entry, Reading{Humidity: floatPtr(90)}, now))
	assert.False(t, ev.EvaluateSensorTrigger(entry, Reading{}, now))

	// No threshold configured: never fires.
	broken := Entry{Kind: "fan", Pin: 17, Trigger: TempAbove, Duration: 60}
	assert.False(t, ev.EvaluateSensorTrigger(broken, Reading{Temperature: floatPtr(35)}, now))
}

func TestScheduleAndTriggerIndependent(t *testing.T) {
	ev := NewEvaluator(time.UTC)
	entry := Entry{
		Kind:          "fan",
		Pin:           17,
		ScheduledTime: "06:00",
		Trigger:       TempAbove,
		Threshold:     floatPtr(30.0),
		Duration:      60,
	}

	now := at(t, "2026-05-01 06:00:00")
	hot := Reading{Temperature: floatPtr(31)}

	// Both arms of the same entry may fire in the same cycle; they
	// track separate ledger keys.
	assert.True(t, ev.EvaluateSchedule(entry, now))
	assert.True(t, ev.EvaluateSensorTrigger(entry, hot, now))
	assert.Equal(t, 2, ev.LedgerSize())
}

func TestEvaluatorsDoNotShareState(t *testing.T) {
	entry := Entry{Kind: "fan", Pin: 17, ScheduledTime: "06:00", Duration: 60}
	now := at(t, "2026-05-01 06:00:00")

	a := NewEvaluator(time.UTC)
	b := NewEvaluator(time.UTC)

	assert.True(t, a.EvaluateSchedule(entry, now))
	// A fresh evaluator has its own ledger.
	assert.True(t, b.EvaluateSchedule(entry, now))
}
