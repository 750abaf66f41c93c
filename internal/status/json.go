package status

import (
	"encoding/json"
	"sort"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	DeviceID      string        `json:"device_id"`
	Paired        bool          `json:"paired"`
	Pins          []PinJSON     `json:"pins"`
	Reading       *ReadingJSON  `json:"reading,omitempty"`
	Table         TableJSON     `json:"action_table"`
	Activations   int           `json:"activations"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// PinJSON is the JSON representation of one actuator pin.
type PinJSON struct {
	Pin   int    `json:"pin"`
	Level string `json:"level"`
}

// ReadingJSON is the JSON representation of the last sensor reading.
type ReadingJSON struct {
	Temperature *float64 `json:"temp,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	At          string   `json:"at"`
}

// TableJSON summarizes the current action table.
type TableJSON struct {
	Entries   int    `json:"entries"`
	LastFetch string `json:"last_fetch,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SamplingSec int64  `json:"sampling_sec"`
	RefetchSec  int64  `json:"refetch_sec"`
	Broker      string `json:"broker,omitempty"`
	HTTPAddr    string `json:"http_addr"`
	ConfigPath  string `json:"config_path"`
	Timezone    string `json:"timezone,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	pins := make([]PinJSON, 0, len(snap.PinLevels))
	for pin, high := range snap.PinLevels {
		level := "LOW"
		if high {
			level = "HIGH"
		}
		pins = append(pins, PinJSON{Pin: pin, Level: level})
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].Pin < pins[j].Pin })

	inner := StatusInner{
		DeviceID:      snap.DeviceID,
		Paired:        snap.Paired,
		Pins:          pins,
		Activations:   snap.Activations,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Table:         TableJSON{Entries: snap.TableEntries},
		Config: ConfigJSON{
			SamplingSec: snap.Config.SamplingSec,
			RefetchSec:  snap.Config.RefetchSec,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			ConfigPath:  snap.Config.ConfigPath,
			Timezone:    snap.Config.Timezone,
		},
	}

	if !snap.LastFetch.IsZero() {
		inner.Table.LastFetch = snap.LastFetch.UTC().Format(time.RFC3339)
	}
	if !snap.LastReading.Empty() {
		inner.Reading = &ReadingJSON{
			Temperature: snap.LastReading.Temperature,
			Humidity:    snap.LastReading.Humidity,
			At:          snap.ReadingAt.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no
// event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT lifecycle
// event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
