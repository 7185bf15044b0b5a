package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"commune/cmd/identity/ids"
)

// prettyHandler writes one human-readable line per record for local runs:
//
//	12:04:05.123 INF http.request method=GET path=/v1/role status=200 class=2xx took=3ms req=01J...
//
// Event names are tinted by namespace (the part before the first dot) and
// the keys this service logs most often get short aliases.
type prettyHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	color  bool
	prefix string // open groups, "a.b."
	pre    []byte // attrs added through WithAttrs, already rendered
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(b)
	return err
}

func newPrettyHandler(w io.Writer, level slog.Leveler, color bool) *prettyHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &prettyHandler{out: &lockedWriter{w: w}, level: level, color: color}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	if !r.Time.IsZero() {
		buf = append(buf, paint(r.Time.Format("15:04:05.000"), ansiDim, h.color)...)
		buf = append(buf, ' ')
	}
	buf = append(buf, levelTag(r.Level, h.color)...)
	buf = append(buf, ' ')
	buf = append(buf, h.event(r.Message)...)
	buf = append(buf, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a, h.prefix)
		return true
	})
	buf = append(buf, '\n')
	return h.out.write(buf)
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.pre = append([]byte(nil), h.pre...)
	for _, a := range attrs {
		cp.pre = h.appendAttr(cp.pre, a, h.prefix)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) event(msg string) string {
	if !h.color {
		return stripANSI(msg)
	}
	ns, _, _ := strings.Cut(msg, ".")
	if c, ok := eventColors[ns]; ok {
		return paint(msg, c, true)
	}
	return paint(msg, ansiBold, true)
}

func (h *prettyHandler) appendAttr(buf []byte, a slog.Attr, prefix string) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, ga, prefix)
		}
		return buf
	}

	key, val := a.Key, ""
	if st, ok := prettyKeys[a.Key]; ok {
		if st.alias != "" {
			key = st.alias
		}
		val = st.render(a.Value, h.color)
	} else {
		val = renderValue(a.Value)
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, key...)
	buf = append(buf, '=')
	return append(buf, val...)
}

type keyStyle struct {
	alias  string
	render func(v slog.Value, color bool) string
}

var prettyKeys = map[string]keyStyle{
	"method":       {render: renderMethod},
	"path":         {render: tinted(ansiCyan)},
	"status":       {render: renderStatus},
	"status_class": {alias: "class", render: renderTone},
	"result":       {render: renderTone},
	"duration_ms":  {alias: "took", render: renderLatency},
	"request_id":   {alias: "req", render: tinted(ansiDim)},
	"user_agent":   {alias: "ua", render: tinted(ansiDim)},
	"err":          {render: tinted(ansiRed)},

	"worker_id":    {alias: "worker", render: tinted(ansiMagenta)},
	"drift_ms":     {alias: "drift", render: millis(ansiRed)},
	"tolerance_ms": {alias: "tolerance", render: millis(ansiDim)},
	"epoch_ms":     {alias: "epoch", render: renderEpoch},
}

var eventColors = map[string]string{
	"http": ansiBlue,
	"ids":  ansiMagenta,
	"auth": ansiYellow,
	"db":   ansiCyan,
}

var methodColors = map[string]string{
	http.MethodGet:    ansiGreen,
	http.MethodPost:   ansiBlue,
	http.MethodDelete: ansiRed,
}

// toneColors covers both status classes and request results.
var toneColors = map[string]string{
	"2xx":          ansiGreen,
	"success":      ansiGreen,
	"3xx":          ansiCyan,
	"redirect":     ansiCyan,
	"4xx":          ansiYellow,
	"client_error": ansiYellow,
	"5xx":          ansiRed,
	"server_error": ansiRed,
}

func tinted(code string) func(slog.Value, bool) string {
	return func(v slog.Value, color bool) string { return paint(renderValue(v), code, color) }
}

func renderMethod(v slog.Value, color bool) string {
	m := strings.ToUpper(strings.TrimSpace(v.String()))
	code, ok := methodColors[m]
	if !ok {
		code = ansiMagenta
	}
	return paint(m, code, color)
}

func renderStatus(v slog.Value, color bool) string {
	n, ok := intValue(v)
	if !ok {
		return renderValue(v)
	}
	return paint(strconv.FormatInt(n, 10), toneColors[statusClass(int(n))], color)
}

func renderTone(v slog.Value, color bool) string {
	s := strings.ToLower(strings.TrimSpace(v.String()))
	return paint(s, toneColors[s], color)
}

func renderLatency(v slog.Value, color bool) string {
	n, ok := intValue(v)
	switch {
	case !ok:
		return renderValue(v)
	case n >= 1000:
		return millis(ansiRed)(v, color)
	case n >= 250:
		return millis(ansiYellow)(v, color)
	default:
		return millis(ansiDim)(v, color)
	}
}

func millis(code string) func(slog.Value, bool) string {
	return func(v slog.Value, color bool) string {
		n, ok := intValue(v)
		if !ok {
			return renderValue(v)
		}
		return paint(strconv.FormatInt(n, 10)+"ms", code, color)
	}
}

func renderEpoch(v slog.Value, color bool) string {
	n, ok := intValue(v)
	if !ok {
		return renderValue(v)
	}
	return paint(time.UnixMilli(n).UTC().Format(time.RFC3339), ansiDim, color)
}

// renderValue is the uncoloured form. Snowflake ids carry their worker so
// the issuing node is visible without decoding by hand.
func renderValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case ids.ID:
			return x.String() + "@w" + strconv.FormatInt(ids.Decode(x).WorkerID, 10)
		case error:
			s = x.Error()
		default:
			s = fmt.Sprint(x)
		}
	default:
		s = v.String()
	}
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func intValue(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true // #nosec G115 -- statuses and millisecond counts.
	default:
		return 0, false
	}
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WRN", ansiYellow, color)
	case level >= slog.LevelInfo:
		return paint("INF", ansiBlue, color)
	default:
		return paint("DBG", ansiDim, color)
	}
}

const (
	ansiReset   = "\x1b[0m"
	ansiBold    = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

// stripANSI drops SGR sequences (ESC [ ... m) so plain output stays plain
// even when a message was built with colours.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "\x1b[")
		if i < 0 {
			break
		}
		b.WriteString(s[:i])
		j := strings.IndexByte(s[i:], 'm')
		if j < 0 {
			s = ""
			break
		}
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}
