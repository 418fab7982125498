// Package uiprogress renders the operator-visible phase dividers and the
// table-granularity progress bar during Sync.
package uiprogress

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	stepColor    = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed, color.Bold)
)

// Step prints a one-line section divider marking the start of a phase.
func Step(format string, a ...interface{}) {
	stepColor.Fprintf(os.Stdout, "==> %s\n", fmt.Sprintf(format, a...))
}

// Success prints a one-line success marker.
func Success(format string, a ...interface{}) {
	successColor.Fprintf(os.Stdout, "  ✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a one-line warning marker.
func Warning(format string, a ...interface{}) {
	warnColor.Fprintf(os.Stdout, "  ! %s\n", fmt.Sprintf(format, a...))
}

// Error prints a one-line error marker.
func Error(format string, a ...interface{}) {
	errColor.Fprintf(os.Stdout, "  ✗ %s\n", fmt.Sprintf(format, a...))
}

// TableBar is the Sync-phase progress bar, one per table, granularity of
// rows processed (fetched and handed to the Loader) against rows planned.
type TableBar struct {
	bar *progressbar.ProgressBar
}

// NewTableBar starts a progress bar for a table with total rows known in
// advance (from CountRows). total == 0 renders an indeterminate spinner.
func NewTableBar(table string, total int64) *TableBar {
	max := total
	if max == 0 {
		max = -1 // progressbar's length-unknown (spinner) mode
	}
	bar := progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(table),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return &TableBar{bar: bar}
}

// Add advances the bar by n rows.
func (t *TableBar) Add(n int) {
	_ = t.bar.Add(n)
}

// Finish completes the bar.
func (t *TableBar) Finish() {
	_ = t.bar.Finish()
}
