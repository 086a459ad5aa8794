package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"shopfloor/api/internal/notice"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the action ran and was refused or failed
	ExitCommandError = 2 // bad arguments or no backend
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not *ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) WriteJSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes aligned columns in text mode.
func (f *OutputFormatter) Table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	writeRow := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
	}
	writeRow(header)
	for _, r := range rows {
		writeRow(r)
	}
	return tw.Flush()
}

// noticePrinter is the terminal's toast area: one line per notice on
// stderr.
type noticePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newNoticePrinter(w io.Writer) *noticePrinter {
	return &noticePrinter{w: w}
}

func (p *noticePrinter) Success(message string, opts ...notice.Option) {
	p.print("✓", message, opts)
}

func (p *noticePrinter) Error(message string, opts ...notice.Option) {
	p.print("✗", message, opts)
}

func (p *noticePrinter) Info(message string, opts ...notice.Option) {
	p.print("ℹ", message, opts)
}

func (p *noticePrinter) print(mark, message string, opts []notice.Option) {
	var n notice.Notice
	for _, opt := range opts {
		opt(&n)
	}
	if n.Icon != "" {
		mark = n.Icon
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", mark, message)
}
