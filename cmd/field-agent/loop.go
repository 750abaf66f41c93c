package main

import (
	"context"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/agrogo-wsu/field-agent/internal/actuate"
	"github.com/agrogo-wsu/field-agent/internal/config"
	"github.com/agrogo-wsu/field-agent/internal/events"
	"github.com/agrogo-wsu/field-agent/internal/rules"
	"github.com/agrogo-wsu/field-agent/internal/sensor"
	"github.com/agrogo-wsu/field-agent/internal/status"
)

// backend is the slice of the cloud client the loop needs.
type backend interface {
	FetchActionTable(ctx context.Context) (rules.Table, error)
	UploadTelemetry(ctx context.Context, r rules.Reading, at time.Time) error
	NotifyChange(ctx context.Context) error
}

// loopDeps carries the collaborators of the control loop. Everything
// is an interface or fake-friendly so the loop is testable without
// hardware.
type loopDeps struct {
	store      *config.Store
	cfg        *config.Config
	client     backend
	reader     sensor.Reader
	sched      *actuate.Scheduler
	publisher  events.Publisher // nil disables event publishing
	mqttStatus events.ConnectionStatus
	tracker    *status.Tracker
}

// runLoop is the controller cycle: refresh the pin action table when
// stale, sample the sensor, evaluate every table entry, upload
// telemetry, then sleep out the remainder of the sampling interval.
// now and after are injectable for tests; sig ends the loop.
func runLoop(d loopDeps, now func() time.Time, after func(time.Duration) <-chan time.Time, sig <-chan os.Signal) error {
	ctx := context.Background()
	evaluator := rules.NewEvaluator(d.cfg.Location())

	// The zero value forces a refresh attempt on the first cycle,
	// however recent the persisted fetch was: a restart always starts
	// from a fresh table when the backend is reachable.
	var lastRefetch time.Time

	for {
		cycleStart := now()

		if lastRefetch.IsZero() || cycleStart.Sub(lastRefetch) > d.cfg.RefetchPeriod() {
			d.refreshTable(ctx, cycleStart, &lastRefetch)
		}

		reading, err := d.reader.Read()
		if err != nil {
			log.Printf("sensor read error: %v", err)
			reading = rules.Reading{}
		} else {
			d.tracker.SetReading(reading, cycleStart)
		}

		for _, entry := range d.cfg.PinActionTable {
			if evaluator.EvaluateSchedule(entry, cycleStart) {
				d.dispatch(entry, cycleStart, "schedule", "")
			}
			if evaluator.EvaluateSensorTrigger(entry, reading, cycleStart) {
				d.dispatch(entry, cycleStart, "trigger", string(entry.Trigger))
			}
		}

		if !reading.Empty() {
			if err := d.client.UploadTelemetry(ctx, reading, cycleStart); err != nil {
				log.Printf("telemetry upload error: %v", err)
			}
		}

		d.tracker.SetPinLevels(d.sched.Levels())
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}

		// Sleep out the rest of the interval, but always at least a
		// second so a long cycle cannot starve signal handling.
		wait := d.cfg.SamplingPeriod() - now().Sub(cycleStart)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case s := <-sig:
			return shutdown(d, s, now())
		case <-after(wait):
		}
	}
}

// refreshTable replaces the pin action table wholesale from the cloud.
// On failure the previous table and refresh timestamp are kept, so the
// fetch is retried on the next cycle.
func (d loopDeps) refreshTable(ctx context.Context, cycleStart time.Time, lastRefetch *time.Time) {
	table, err := d.client.FetchActionTable(ctx)
	if err != nil {
		log.Printf("config fetch error: %v", err)
		return
	}

	changed := !d.cfg.PinActionTable.Equal(table)
	d.cfg.PinActionTable = table
	d.cfg.LastConfigFetch = cycleStart.Unix()
	*lastRefetch = cycleStart

	if err := d.store.Save(d.cfg); err != nil {
		log.Printf("config save error: %v", err)
	}
	d.tracker.SetTable(len(table), cycleStart)

	if changed {
		log.Printf("pin action table changed: %d entries", len(table))
		if err := d.client.NotifyChange(ctx); err != nil {
			log.Printf("change notification error: %v", err)
		}
	}
}

// dispatch fires one table entry: raise the pin for its duration and
// record the activation.
func (d loopDeps) dispatch(entry rules.Entry, at time.Time, source, trigger string) {
	log.Printf("activating pin %d (%s) for %v via %s", entry.Pin, entry.Kind, entry.ActiveFor(), source)
	d.sched.Activate(entry.Pin, entry.ActiveFor())
	d.tracker.AddActivation()

	if d.publisher == nil {
		return
	}
	event := events.ActuationEvent{
		Timestamp: at,
		Kind:      entry.Kind,
		Pin:       entry.Pin,
		Duration:  entry.ActiveFor(),
		Source:    source,
		Trigger:   trigger,
	}
	if err := d.publisher.PublishActuation(event); err != nil {
		log.Printf("actuation publish error: %v", err)
	}
}

// shutdown publishes the SHUTDOWN event and forces every actuator pin
// LOW before the loop returns.
func shutdown(d loopDeps, s os.Signal, at time.Time) error {
	log.Printf("received %v, shutting down", s)
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}

	if d.publisher != nil {
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
		snap := d.tracker.Snapshot()
		event := events.SystemEvent{
			Timestamp:  at,
			Event:      "SHUTDOWN",
			Reason:     signalName,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
		}
		if err := d.publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		} else {
			log.Printf("published shutdown event")
		}
	}

	d.sched.ForceAllLow()
	return nil
}
