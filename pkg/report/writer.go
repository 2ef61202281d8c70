package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/scope-profiler/pkg/utils"
)

const (
	rowFormat    = "%-32.32s %-8d %-9.3f %-15.6f %-10.3f %-15.6f %-8d %-8d %-14d %-12d"
	headerFormat = "%-32.32s %-8.8s %-9.9s %-15.15s %-10.10s %-15.15s %-8.8s %-8.8s %-14.14s %-12.12s"
)

// Columns are the report column titles, in row order.
var Columns = []string{
	"LABEL", "CALLS", "TOTAL%", "TOTAL TIME(S)", "SELF%", "SELF TIME(S)",
	"ALLOCS", "FREED", "BYTES ALLOCED", "BYTES FREED",
}

// Writer renders reports for humans.
type Writer struct {
	clock  utils.TickClock
	top    int
	indent int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithTop keeps only the first n top-level rows (and their subtrees). 0
// keeps everything.
func WithTop(n int) WriterOption {
	return func(w *Writer) {
		if n >= 0 {
			w.top = n
		}
	}
}

// WithIndent sets the number of spaces each nesting level is indented by.
func WithIndent(n int) WriterOption {
	return func(w *Writer) {
		if n >= 0 {
			w.indent = n
		}
	}
}

// NewWriter creates a Writer converting ticks with clock.
func NewWriter(clock utils.TickClock, opts ...WriterOption) *Writer {
	w := &Writer{clock: clock, indent: 2}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Rows returns the report rows after the top-level limit is applied.
func (w *Writer) Rows(r *Report) []Row {
	rows := r.Rows(w.clock)
	if w.top <= 0 {
		return rows
	}

	seen := 0
	for i, row := range rows {
		if row.Depth == 0 {
			seen++
			if seen > w.top {
				return rows[:i]
			}
		}
	}
	return rows
}

// Header returns the fixed-width header line.
func Header() string {
	args := make([]interface{}, len(Columns))
	for i, c := range Columns {
		args[i] = c
	}
	return fmt.Sprintf(headerFormat, args...)
}

// FormatRow returns row as a fixed-width line, the label indented by depth.
func (w *Writer) FormatRow(row Row) string {
	label := strings.Repeat(" ", row.Depth*w.indent) + row.Label
	return fmt.Sprintf(rowFormat,
		label, row.Calls,
		row.TotalPct, row.TotalSeconds,
		row.SelfPct, row.SelfSeconds,
		row.Allocs, row.Frees, row.BytesAlloced, row.BytesFreed)
}

// Log writes the report to logger, one Info line per row after a header.
func (w *Writer) Log(logger utils.Logger, r *Report) {
	log := logger.WithFields(map[string]interface{}{
		"mode":  r.Mode().String(),
		"roots": r.Roots(),
	})
	log.Info("%s", Header())
	for _, row := range w.Rows(r) {
		log.Info("%s", w.FormatRow(row))
	}
}

// Text writes the fixed-width report to out.
func (w *Writer) Text(out io.Writer, r *Report) error {
	if _, err := fmt.Fprintln(out, Header()); err != nil {
		return err
	}
	for _, row := range w.Rows(r) {
		if _, err := fmt.Fprintln(out, w.FormatRow(row)); err != nil {
			return err
		}
	}
	return nil
}

// Table renders the report as an ASCII table with human readable sizes.
func (w *Writer) Table(out io.Writer, r *Report) {
	tbl := tablewriter.NewWriter(out)
	tbl.SetHeader(Columns)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetAutoWrapText(false)
	tbl.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range w.Rows(r) {
		tbl.Append([]string{
			strings.Repeat(" ", row.Depth*w.indent) + row.Label,
			humanize.Comma(int64(row.Calls)),
			fmt.Sprintf("%.2f", row.TotalPct),
			fmt.Sprintf("%.6f", row.TotalSeconds),
			fmt.Sprintf("%.2f", row.SelfPct),
			fmt.Sprintf("%.6f", row.SelfSeconds),
			humanize.Comma(int64(row.Allocs)),
			humanize.Comma(int64(row.Frees)),
			humanize.IBytes(row.BytesAlloced),
			humanize.IBytes(row.BytesFreed),
		})
	}
	tbl.SetFooter([]string{
		"TOTAL", humanize.Comma(int64(r.Roots())), "", fmt.Sprintf("%.6f", utils.TicksToSeconds(w.clock, r.Total())),
		"", "", "", "", "", "",
	})
	tbl.Render()
}
