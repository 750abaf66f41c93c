package web

import (
	"html/template"
	"io"
	"log"
	"sort"
	"time"

	"github.com/agrogo-wsu/field-agent/internal/status"
)

var pageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<title>field-agent — {{.DeviceID}}</title>
<meta http-equiv="refresh" content="10">
<style>
body { font-family: monospace; background: #101510; color: #cfe8cf; margin: 2em; }
h1 { font-size: 1.2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #2d4d2d; padding: 0.3em 0.8em; text-align: left; }
.high { color: #ffd75f; font-weight: bold; }
.low { color: #6f8f6f; }
</style>
</head>
<body>
<h1>field-agent {{.DeviceID}}{{if not .Paired}} (unpaired){{end}}</h1>
<p>up {{.Uptime}} &middot; table {{.TableEntries}} entries &middot; {{.Activations}} activations &middot; mqtt {{if .MQTTConnected}}connected{{else}}offline{{end}}</p>
{{if .HasReading}}<p>last reading: {{if .Temp}}{{.Temp}} &deg;C{{end}} {{if .Humidity}}{{.Humidity}} %RH{{end}} at {{.ReadingAt}}</p>{{end}}
<table>
<tr><th>pin</th><th>level</th></tr>
{{range .Pins}}<tr><td>{{.Pin}}</td><td class="{{.Class}}">{{.Level}}</td></tr>
{{end}}</table>
<p><a href="/status.json">json</a></p>
</body>
</html>
`))

type pagePin struct {
	Pin   int
	Level string
	Class string
}

type pageData struct {
	DeviceID      string
	Paired        bool
	Uptime        time.Duration
	TableEntries  int
	Activations   int
	MQTTConnected bool
	HasReading    bool
	Temp          *float64
	Humidity      *float64
	ReadingAt     string
	Pins          []pagePin
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	data := pageData{
		DeviceID:      snap.DeviceID,
		Paired:        snap.Paired,
		Uptime:        snap.Uptime().Truncate(time.Second),
		TableEntries:  snap.TableEntries,
		Activations:   snap.Activations,
		MQTTConnected: snap.MQTTConnected,
		HasReading:    !snap.LastReading.Empty(),
		Temp:          snap.LastReading.Temperature,
		Humidity:      snap.LastReading.Humidity,
		ReadingAt:     snap.ReadingAt.Format("15:04:05"),
	}

	for pin, high := range snap.PinLevels {
		p := pagePin{Pin: pin, Level: "LOW", Class: "low"}
		if high {
			p.Level = "HIGH"
			p.Class = "high"
		}
		data.Pins = append(data.Pins, p)
	}
	sort.Slice(data.Pins, func(i, j int) bool { return data.Pins[i].Pin < data.Pins[j].Pin })

	if err := pageTemplate.Execute(w, data); err != nil {
		log.Printf("web: render status page: %v", err)
	}
}
