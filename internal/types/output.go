package types

// TableRenderer is implemented by results with a tabular form
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
	EmptyMessage() string
}

// OutputFormat selects how CLI results are printed
type OutputFormat string

const (
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// CLIOutput is the JSON envelope written by every command
type CLIOutput struct {
	SchemaVersion string      `json:"schemaVersion"`
	TraceID       string      `json:"traceId"`
	Command       string      `json:"command"`
	Data          interface{} `json:"data"`
	Errors        []CLIError  `json:"errors"`
}

// GlobalFlags holds persistent CLI flags
type GlobalFlags struct {
	Profile      string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	Config       string
	LogFile      string
	JSON         bool
}
