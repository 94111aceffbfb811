package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/clickguard/internal/control"
	"github.com/sweeney/clickguard/internal/status"
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
	"ms": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>clickguard</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
form { display: inline; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.selected { font-weight: bold; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>clickguard{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Debounce</h2>
<table>
<tr><th>Source</th><td class="{{if .Running}}on{{else}}off{{end}}">{{.Config.Source}} ({{if .Running}}running{{else}}stopped{{end}})</td></tr>
<tr><th>Threshold</th><td id="threshold">{{ms .DebounceMs}}ms</td></tr>
<tr><th>Presets</th><td>{{range .Presets}}<form method="post" action="/debounce"><input type="hidden" name="ms" value="{{.}}"><button{{if eq . $.DebounceMs}} class="selected"{{end}}>{{.}}ms</button></form> {{end}}</td></tr>
<tr><th>Custom</th><td><form method="post" action="/debounce"><input name="ms" size="6" placeholder="125"> <button>Set</button></form></td></tr>
</table>

<h2>Clicks</h2>
<table>
<tr><th>Forwarded</th><td>{{.Counts.Forwarded}}</td></tr>
<tr><th>Dropped</th><td id="dropped">{{.Counts.Dropped}}</td></tr>
<tr><th>Other buttons</th><td>{{.Counts.Passed}}</td></tr>
{{if .LastDrop}}<tr><th>Last drop</th><td id="last-drop">{{.LastDrop.Time.UTC.Format "15:04:05.000"}} ({{ms .LastDropMs}}ms after accepted)</td></tr>{{end}}
</table>

<h2>Measurement</h2>
<table>
<tr><th>Mode</th><td class="{{if .Measuring}}on{{else}}off{{end}}">{{if .Measuring}}on{{else}}off{{end}}
<form method="post" action="/measurement"><input type="hidden" name="enabled" value="{{if .Measuring}}off{{else}}on{{end}}"><button>{{if .Measuring}}Stop{{else}}Start{{end}}</button></form></td></tr>
<tr><th>Recent</th><td id="intervals">{{range $i, $v := .Intervals}}{{if $i}}, {{end}}{{ms $v}}{{else}}none{{end}}</td></tr>
<tr><th>Average</th><td id="average">{{ms .Average}}ms</td></tr>
<tr><th></th><td><form method="post" action="/intervals/clear"><button>Clear</button></form></td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
<tr><th>Settings</th><td>{{.Config.Settings}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var list = document.getElementById("intervals");
  var avg = document.getElementById("average");
  var dropped = document.getElementById("dropped");
  var recent = [{{range $i, $v := .Intervals}}{{if $i}},{{end}}{{$v}}{{end}}];

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function render() {
    if (recent.length === 0) {
      list.textContent = "none";
      avg.textContent = "0.0ms";
      return;
    }
    var sum = 0;
    for (var i = 0; i < recent.length; i++) sum += recent[i];
    list.textContent = recent.map(function(v) { return v.toFixed(1); }).join(", ");
    avg.textContent = (sum / recent.length).toFixed(1) + "ms";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.interval_ms !== undefined) {
          recent.push(msg.interval_ms);
          if (recent.length > {{.Max}}) recent.shift();
          render();
        }
        if (msg.dropped_since_ms !== undefined) {
          dropped.textContent = String(Number(dropped.textContent) + 1);
        }
      } catch (e) {}
    };
  }

  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) {
	// Snapshot has methods but the template needs plain fields.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		DebounceMs float64
		Average    float64
		LastDropMs float64
		Presets    []float64
		Max        int
		Live       bool
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		DebounceMs: status.Ms(snap.Threshold),
		Average:    snap.AverageMs(),
		Presets:    control.Presets,
		Max:        status.MaxIntervals,
		Live:       live,
	}
	if snap.LastDrop != nil {
		data.LastDropMs = status.Ms(snap.LastDrop.SinceAccepted)
	}
	indexTmpl.Execute(w, data)
}
