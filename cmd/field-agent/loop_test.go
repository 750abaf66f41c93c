package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrogo-wsu/field-agent/internal/actuate"
	"github.com/agrogo-wsu/field-agent/internal/cloud"
	"github.com/agrogo-wsu/field-agent/internal/config"
	"github.com/agrogo-wsu/field-agent/internal/events"
	"github.com/agrogo-wsu/field-agent/internal/gpio"
	"github.com/agrogo-wsu/field-agent/internal/rules"
	"github.com/agrogo-wsu/field-agent/internal/sensor"
	"github.com/agrogo-wsu/field-agent/internal/status"
)

func f(v float64) *float64 { return &v }

// fakeClock returns a function that yields start, start+step,
// start+2*step, ... on successive calls. runLoop reads the clock twice
// per cycle (cycle start and sleep computation), so consecutive cycle
// starts are 2*step apart.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fixtures struct {
	store   *config.Store
	cfg     *config.Config
	client  *cloud.FakeClient
	reader  *sensor.FakeReader
	writer  *gpio.FakeWriter
	pub     *events.FakePublisher
	tracker *status.Tracker
	sched   *actuate.Scheduler
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()

	cfg := config.Default()
	cfg.DeviceID = "b8:27:eb:aa:bb:cc"
	cfg.Paired = true
	cfg.Timezone = "UTC"

	writer := gpio.NewFakeWriter(gpio.DefaultPins())
	fx := &fixtures{
		store:   config.NewStore(filepath.Join(t.TempDir(), "config.json")),
		cfg:     cfg,
		client:  cloud.NewFakeClient(),
		reader:  sensor.NewFakeReader([]rules.Reading{{Temperature: f(21), Humidity: f(40)}}),
		writer:  writer,
		pub:     events.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
		sched:   actuate.NewScheduler(writer),
	}
	return fx
}

func (fx *fixtures) deps() loopDeps {
	return loopDeps{
		store:      fx.store,
		cfg:        fx.cfg,
		client:     fx.client,
		reader:     fx.reader,
		sched:      fx.sched,
		publisher:  fx.pub,
		mqttStatus: fx.pub,
		tracker:    fx.tracker,
	}
}

// driveLoop runs runLoop for exactly nCycles, then delivers sig.
// The fake after channel is never fired for the final select, so the
// signal branch is taken deterministically.
func driveLoop(t *testing.T, fx *fixtures, start time.Time, step time.Duration, nCycles int, s os.Signal) {
	t.Helper()

	wake := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	after := func(time.Duration) <-chan time.Time { return wake }

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(fx.deps(), fakeClock(start, step), after, sigCh)
	}()

	for i := 1; i < nCycles; i++ {
		wake <- time.Time{}
	}
	sigCh <- s

	require.NoError(t, <-errCh)
}

func TestRunLoopFiresScheduledEntryOncePerMinute(t *testing.T) {
	fx := newFixtures(t)
	fx.cfg.PinActionTable = rules.Table{
		{Kind: "water", Pin: gpio.PinWater1, ScheduledTime: "06:00", Duration: 1},
	}
	fx.client.Table = fx.cfg.PinActionTable

	// Cycle starts at 06:00:00, 06:00:02, 06:00:04 — all inside the
	// scheduled minute, so the entry fires exactly once.
	start := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 3, syscall.SIGTERM)

	acts := fx.pub.ActuationEvents()
	require.Len(t, acts, 1)
	assert.Equal(t, "schedule", acts[0].Source)
	assert.Equal(t, gpio.PinWater1, acts[0].Pin)
	assert.Equal(t, "water", acts[0].Kind)
	assert.Equal(t, time.Second, acts[0].Duration)

	assert.Equal(t, 1, fx.tracker.Snapshot().Activations)

	// The activation task raises the pin from its own goroutine.
	require.Eventually(t, func() bool {
		for _, tr := range fx.writer.TransitionsFor(gpio.PinWater1) {
			if tr.High {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRunLoopSensorTriggerHonorsCooldown(t *testing.T) {
	fx := newFixtures(t)
	cooldown := 60
	fx.cfg.PinActionTable = rules.Table{
		{Kind: "fan", Pin: gpio.PinFan, Trigger: rules.TempAbove, Threshold: f(30), Duration: 1, CooldownSec: &cooldown},
	}
	fx.client.Table = fx.cfg.PinActionTable
	fx.reader.Samples = []rules.Reading{{Temperature: f(31), Humidity: f(40)}}

	// Cycle starts at t=0s, 30s, 60s: fires at 0, cooldown suppresses
	// 30, and the 60s boundary re-arms the rule.
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, 15*time.Second, 3, syscall.SIGTERM)

	acts := fx.pub.ActuationEvents()
	require.Len(t, acts, 2)
	assert.Equal(t, "trigger", acts[0].Source)
	assert.Equal(t, string(rules.TempAbove), acts[0].Trigger)
	assert.Equal(t, start, acts[0].Timestamp)
	assert.Equal(t, start.Add(60*time.Second), acts[1].Timestamp)
}

func TestRunLoopUploadsTelemetryEveryCycle(t *testing.T) {
	fx := newFixtures(t)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 3, syscall.SIGTERM)

	uploads := fx.client.Uploads()
	require.Len(t, uploads, 3)
	assert.Equal(t, 21.0, *uploads[0].Reading.Temperature)
	assert.Equal(t, 40.0, *uploads[0].Reading.Humidity)
	assert.Equal(t, start, uploads[0].At)
}

func TestRunLoopSkipsUploadOnSensorError(t *testing.T) {
	fx := newFixtures(t)
	fx.reader.ReadError = os.ErrDeadlineExceeded

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 2, syscall.SIGTERM)

	assert.Empty(t, fx.client.Uploads())
	// The loop kept running despite the sensor failure.
	assert.Equal(t, 2, fx.reader.Reads())
}

func TestRunLoopFailedFetchKeepsTableAndRetries(t *testing.T) {
	fx := newFixtures(t)
	existing := rules.Table{{Kind: "fan", Pin: gpio.PinFan, ScheduledTime: "23:59", Duration: 5}}
	fx.cfg.PinActionTable = existing
	fx.client.FetchError = os.ErrDeadlineExceeded

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 3, syscall.SIGTERM)

	// Every cycle retried the fetch because the refresh timestamp was
	// never advanced.
	assert.Equal(t, 3, fx.client.Fetches())
	assert.True(t, fx.cfg.PinActionTable.Equal(existing))
	assert.Zero(t, fx.cfg.LastConfigFetch)
}

func TestRunLoopRefreshesOnStartupDespiteRecentFetch(t *testing.T) {
	fx := newFixtures(t)
	fx.client.Table = rules.Table{
		{Kind: "fan", Pin: gpio.PinFan, ScheduledTime: "23:59", Duration: 5},
	}

	// The device fetched 30s before this restart, well inside the
	// refetch interval. The first cycle must still hit the backend.
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	fx.cfg.LastConfigFetch = start.Add(-30 * time.Second).Unix()

	driveLoop(t, fx, start, time.Second, 1, syscall.SIGTERM)

	assert.Equal(t, 1, fx.client.Fetches())
	assert.Equal(t, start.Unix(), fx.cfg.LastConfigFetch)
}

func TestRunLoopTableChangePersistsAndNotifies(t *testing.T) {
	fx := newFixtures(t)
	fx.client.Table = rules.Table{
		{Kind: "water", Pin: gpio.PinWater2, ScheduledTime: "08:30", Duration: 120},
	}

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 3, syscall.SIGTERM)

	// One fetch: the table was fresh for the remaining cycles.
	assert.Equal(t, 1, fx.client.Fetches())
	assert.Equal(t, 1, fx.client.Notifies())
	assert.Equal(t, start.Unix(), fx.cfg.LastConfigFetch)

	saved, err := fx.store.Load()
	require.NoError(t, err)
	assert.True(t, saved.PinActionTable.Equal(fx.client.Table))

	snap := fx.tracker.Snapshot()
	assert.Equal(t, 1, snap.TableEntries)
	assert.Equal(t, start, snap.LastFetch)
}

func TestRunLoopUnchangedTableDoesNotNotify(t *testing.T) {
	fx := newFixtures(t)
	existing := rules.Table{{Kind: "fan", Pin: gpio.PinFan, ScheduledTime: "23:59", Duration: 5}}
	fx.cfg.PinActionTable = existing
	fx.client.Table = existing

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 2, syscall.SIGTERM)

	assert.Equal(t, 1, fx.client.Fetches())
	assert.Zero(t, fx.client.Notifies())
}

func TestRunLoopShutdownForcesAllPinsLow(t *testing.T) {
	fx := newFixtures(t)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 1, syscall.SIGTERM)

	// ForceAllLow writes LOW to every actuator pin on the way out.
	lows := make(map[int]bool)
	for _, tr := range fx.writer.Transitions() {
		if !tr.High {
			lows[tr.Pin] = true
		}
	}
	for _, pin := range gpio.DefaultPins() {
		assert.True(t, lows[pin], "pin %d was not forced LOW", pin)
	}
}

func TestRunLoopShutdownPublishesEvent(t *testing.T) {
	fx := newFixtures(t)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	driveLoop(t, fx, start, time.Second, 1, syscall.SIGINT)

	lifecycle := fx.pub.LifecycleEvents()
	require.Len(t, lifecycle, 1)
	assert.Equal(t, "SHUTDOWN", lifecycle[0].Event)
	assert.Equal(t, "SIGINT", lifecycle[0].Reason)
	assert.True(t, lifecycle[0].Retained)
	assert.NotEmpty(t, lifecycle[0].RawPayload)
}

func TestRunLoopNoPublisher(t *testing.T) {
	fx := newFixtures(t)
	fx.cfg.PinActionTable = rules.Table{
		{Kind: "water", Pin: gpio.PinWater1, ScheduledTime: "06:00", Duration: 1},
	}
	fx.client.Table = fx.cfg.PinActionTable

	deps := fx.deps()
	deps.publisher = nil
	deps.mqttStatus = nil

	wake := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	after := func(time.Duration) <-chan time.Time { return wake }
	start := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(deps, fakeClock(start, time.Second), after, sigCh)
	}()
	sigCh <- syscall.SIGTERM
	require.NoError(t, <-errCh)

	// The entry still fired; only the event stream is absent.
	assert.Equal(t, 1, fx.tracker.Snapshot().Activations)
	assert.Empty(t, fx.pub.ActuationEvents())
}
