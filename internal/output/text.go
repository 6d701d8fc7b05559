package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
	"github.com/KilimcininKorOglu/netdiag/internal/probe"
	"github.com/KilimcininKorOglu/netdiag/internal/vendor"
)

// TextFormatter formats results as short human-readable lines.
type TextFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTextFormatter creates a new text formatter.
func NewTextFormatter(config Config) *TextFormatter {
	colors := &ColorScheme{}
	if config.Colors {
		colors = DefaultColorScheme()
	}

	return &TextFormatter{
		config: config,
		colors: colors,
	}
}

// Format formats the response as text.
func (f *TextFormatter) Format(resp dispatch.Response) ([]byte, error) {
	var buf bytes.Buffer

	if !resp.OK {
		msg := fmt.Sprintf("Error [%s/%s]: %s", resp.ErrorKind, resp.Code, resp.Message)
		buf.WriteString(paint(f.colors.Error, msg))
		buf.WriteString("\n")
		return buf.Bytes(), nil
	}

	switch data := resp.Data.(type) {
	case *probe.PortResult:
		f.formatPort(&buf, data)
	case *probe.ReachabilityResult:
		f.formatPing(&buf, data)
	case *vendor.Result:
		fmt.Fprintf(&buf, "%s  %s\n", paint(f.colors.Target, data.MAC), strings.TrimSpace(data.Vendor))
	case *dispatch.TraceTranscript:
		buf.WriteString(data.Output)
		if len(data.Output) > 0 && data.Output[len(data.Output)-1] != '\n' {
			buf.WriteString("\n")
		}
	case nil:
		buf.WriteString("ok\n")
	default:
		fmt.Fprintf(&buf, "%v\n", data)
	}

	return buf.Bytes(), nil
}

func (f *TextFormatter) formatPort(buf *bytes.Buffer, r *probe.PortResult) {
	status := r.Status.String()
	c := f.colors.Bad
	switch r.Status {
	case probe.PortOpen:
		c = f.colors.Good
	case probe.PortTimedOut:
		c = f.colors.Warn
	}
	target := probe.Target{Host: r.Host, Port: r.Port}.Address()
	fmt.Fprintf(buf, "%s  %s\n", paint(f.colors.Target, target), paint(c, status))
}

func (f *TextFormatter) formatPing(buf *bytes.Buffer, r *probe.ReachabilityResult) {
	host := paint(f.colors.Target, r.Host)
	if !r.Alive {
		fmt.Fprintf(buf, "%s  %s\n", host, paint(f.colors.Bad, "no reply"))
		return
	}
	rtt := fmt.Sprintf("%.3f ms", r.RTT())
	fmt.Fprintf(buf, "%s  %s  %s\n", host, paint(f.colors.Good, "alive"), f.colorizeRTT(r.RTT(), rtt))
}

// colorizeRTT returns a colored RTT string based on latency thresholds.
func (f *TextFormatter) colorizeRTT(rtt float64, str string) string {
	switch {
	case rtt < 50:
		return paint(f.colors.RTTLow, str)
	case rtt < 150:
		return paint(f.colors.RTTMed, str)
	default:
		return paint(f.colors.RTTHigh, str)
	}
}

// paint applies c to s; a nil color leaves s unchanged.
func paint(c *color.Color, s string) string {
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

// ColorScheme defines colors for different output elements. The zero value
// disables coloring.
type ColorScheme struct {
	Target  *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	RTTLow  *color.Color // < 50ms
	RTTMed  *color.Color // 50-150ms
	RTTHigh *color.Color // > 150ms
	Error   *color.Color
	Header  *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Target:  color.New(color.FgCyan, color.Bold),
		Good:    color.New(color.FgGreen, color.Bold),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed),
		RTTLow:  color.New(color.FgGreen),
		RTTMed:  color.New(color.FgYellow),
		RTTHigh: color.New(color.FgRed),
		Error:   color.New(color.FgRed, color.Bold),
		Header:  color.New(color.FgWhite, color.Bold),
	}
}
