package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	format  types.OutputFormat
	quiet   bool
	verbose bool
	stdout  io.Writer
	stderr  io.Writer
}

// NewOutputWriter creates a new output writer on the process streams
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:  format,
		quiet:   quiet,
		verbose: verbose,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

func newOutput() *OutputWriter {
	flags := GetGlobalFlags()
	return NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	if w.format == types.OutputFormatJSON {
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       uuid.New().String(),
			Command:       command,
			Data:          data,
			Errors:        []types.CLIError{},
		})
	}
	return w.writeTable(command, data)
}

// WriteError writes an error result. Table mode prints a single line to
// stderr.
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	if w.format != types.OutputFormatJSON {
		_, err := fmt.Fprintf(w.stderr, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
		return err
	}
	return w.writeJSON(types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       uuid.New().String(),
		Command:       command,
		Errors:        []types.CLIError{cliErr},
	})
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeTable(command string, data interface{}) error {
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	if kv, ok := data.(map[string]interface{}); ok {
		return w.renderTable(keyValueTable(kv))
	}
	// No tabular form, fall back to JSON
	return w.writeJSON(types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       uuid.New().String(),
		Command:       command,
		Data:          data,
		Errors:        []types.CLIError{},
	})
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(w.stdout, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(w.stdout)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// asCLIError extracts the structured error carried by err
func asCLIError(err error) types.CLIError {
	if appErr, ok := err.(*utils.AppError); ok {
		return appErr.CLIError
	}
	code := utils.ErrorCode(err)
	if code == "" {
		code = utils.ErrCodeUnknown
	}
	return utils.NewCLIError(code, err.Error()).Build()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
