package output

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
	"github.com/KilimcininKorOglu/netdiag/internal/probe"
	"github.com/KilimcininKorOglu/netdiag/internal/trace"
	"github.com/KilimcininKorOglu/netdiag/internal/vendor"
)

// TableFormatter formats results as a detailed field/value table.
type TableFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(config Config) *TableFormatter {
	colors := &ColorScheme{}
	if config.Colors {
		colors = DefaultColorScheme()
	}

	return &TableFormatter{
		config: config,
		colors: colors,
	}
}

// Format formats the response as a table.
func (f *TableFormatter) Format(resp dispatch.Response) ([]byte, error) {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	f.configureTable(table)
	table.SetHeader([]string{"Field", "Value"})

	for _, row := range f.rows(resp) {
		table.Append(row)
	}
	table.Render()

	// Trace output does not fit in a cell
	if t, ok := resp.Data.(*dispatch.TraceTranscript); ok && resp.OK && t.Output != "" {
		buf.WriteString("\n")
		buf.WriteString(paint(f.colors.Header, "Output:"))
		buf.WriteString("\n")
		buf.WriteString(t.Output)
	}

	return buf.Bytes(), nil
}

// rows returns the table rows for a response.
func (f *TableFormatter) rows(resp dispatch.Response) [][]string {
	rows := [][]string{{"OK", strconv.FormatBool(resp.OK)}}

	if !resp.OK {
		return append(rows,
			[]string{"Error Kind", string(resp.ErrorKind)},
			[]string{"Code", string(resp.Code)},
			[]string{"HTTP Status", strconv.Itoa(resp.HTTPStatus())},
			[]string{"Message", resp.Message},
		)
	}

	switch data := resp.Data.(type) {
	case *probe.PortResult:
		rows = append(rows,
			[]string{"Host", data.Host},
			[]string{"Port", strconv.Itoa(data.Port)},
			[]string{"Status", data.Status.String()},
			[]string{"Open", strconv.FormatBool(data.Status.IsOpen())},
		)
	case *probe.ReachabilityResult:
		rtt := "-"
		if data.RoundTripTimeMs != nil {
			rtt = fmt.Sprintf("%.3f ms", data.RTT())
		}
		rows = append(rows,
			[]string{"Host", data.Host},
			[]string{"Alive", strconv.FormatBool(data.Alive)},
			[]string{"Round Trip", rtt},
		)
	case *vendor.Result:
		rows = append(rows,
			[]string{"MAC", data.MAC},
			[]string{"Vendor", strings.TrimSpace(data.Vendor)},
		)
	case *dispatch.TraceTranscript:
		rows = append(rows,
			[]string{"Host", data.Host},
			[]string{"State", data.State},
			[]string{"Events", strconv.Itoa(len(data.Events))},
			[]string{"Outcome", outcome(data.Events)},
		)
	}
	return rows
}

// outcome names the terminal event of a trace.
func outcome(events []trace.Event) string {
	if len(events) == 0 {
		return "-"
	}
	last := events[len(events)-1]
	if last.Kind == trace.EventNonZeroExit {
		return fmt.Sprintf("%s (%d)", last.Kind, last.ExitCode)
	}
	return last.Kind.String()
}

// configureTable sets up the table appearance.
func (f *TableFormatter) configureTable(table *tablewriter.Table) {
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetTablePadding(" ")
}
