package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/pulse-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"lower": func(v any) string { return strings.ToLower(fmt.Sprint(v)) },
	"pin": func(p int) string {
		if p < 0 {
			return "none"
		}
		return fmt.Sprintf("%d", p)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Pulse Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.locked { color: green; font-weight: bold; }
.measuring { color: orange; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.breaker-open { color: red; }
.breaker-half-open { color: orange; }
</style>
</head>
<body>
<h1>Pulse Sensor</h1>

<h2>Pulse</h2>
<table>
<tr><th>State</th><td class="{{lower .State}}">{{.State}}</td></tr>
<tr><th>Locked</th><td>{{if .LockedRate}}{{.LockedRate}} bpm{{else}}-{{end}}</td></tr>
<tr><th>Provisional</th><td>{{if .ProvisionalRate}}{{.ProvisionalRate}} bpm{{else}}-{{end}}</td></tr>
<tr><th>Idle</th><td>{{.IdleRate}} bpm ({{.Timeout}})</td></tr>
<tr><th>Last sensor edge</th><td>{{if .LastSensorEdge.IsZero}}never{{else}}{{.LastSensorEdge.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Sensor edges</th><td>{{.Counts.SensorEdges}}</td></tr>
<tr><th>Dropped edges</th><td>{{.Counts.DroppedEdges}}</td></tr>
<tr><th>Locks</th><td>{{.Counts.Locks}}</td></tr>
<tr><th>Fallbacks</th><td>{{.Counts.Fallbacks}}</td></tr>
<tr><th>Idle ticks</th><td>{{.Counts.IdleTicks}}</td></tr>
<tr><th>Button (accepted/ignored)</th><td>{{.Counts.ButtonAccepted}}/{{.Counts.ButtonIgnored}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
{{with .Telemetry}}{{if .Breaker}}<tr><th>Circuit breaker</th><td class="breaker-{{.Breaker}}">{{.Breaker}}</td></tr>
{{end}}<tr><th>Published / failed / dropped</th><td>{{.Published}} / {{.Failed}} / {{.Dropped}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Pins (sensor/output/button)</th><td>{{.Config.SensorPin}}/{{.Config.OutputPin}}/{{pin .Config.ButtonPin}}</td></tr>
<tr><th>Wait</th><td>{{.Config.WaitMs}}ms</td></tr>
<tr><th>Idle range</th><td>{{.Config.IdleMin}}..{{.Config.IdleMax}} step {{.Config.IdleStep}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
