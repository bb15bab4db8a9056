package cli

import (
	"fmt"
	"sort"

	"github.com/dl-alexandre/gsyncfs/internal/config"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing gsyncfs configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration: defaults, then the config file, then GSYNCFS_ environment variables",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Use 'config show' to see available keys",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	RunE:  runConfigReset,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	rootCmd.AddCommand(configCmd)
}

// configPath is the file `config set` and `config reset` write
func configPath() (string, error) {
	if globalFlags.Config != "" {
		return globalFlags.Config, nil
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return "", utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Err()
	}
	return path, nil
}

// keyValueTable renders a flat map as two sorted columns
type keyValueTable map[string]interface{}

func (t keyValueTable) Headers() []string {
	return []string{"Key", "Value"}
}

func (t keyValueTable) Rows() [][]string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(t[k])})
	}
	return rows
}

func (t keyValueTable) EmptyMessage() string {
	return "Nothing to show"
}

// configTable flattens the config for table output
func configTable(cfg *config.Config) keyValueTable {
	return keyValueTable{
		"defaultProfile":      cfg.DefaultProfile,
		"defaultOutputFormat": cfg.DefaultOutputFormat,
		"localRoot":           cfg.LocalRoot,
		"rootDirectoryName":   cfg.RootDirectoryName,
		"conflictPolicy":      cfg.ConflictPolicy,
		"initialPollDelayMs":  cfg.InitialPollDelayMs,
		"maxPollDelayMs":      cfg.MaxPollDelayMs,
		"offlinePollDelayMs":  cfg.OfflinePollDelayMs,
		"changePageSize":      cfg.ChangePageSize,
		"maxRetries":          cfg.MaxRetries,
		"retryBaseDelay":      cfg.RetryBaseDelay,
		"requestTimeout":      cfg.RequestTimeout,
		"probeIntervalSec":    cfg.ProbeIntervalSec,
		"watchLocal":          cfg.WatchLocal,
		"excludePatterns":     cfg.ExcludePatterns,
		"logLevel":            cfg.LogLevel,
		"logFile":             cfg.LogFile,
		"colorOutput":         cfg.ColorOutput,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := newOutput()
	if out.format == types.OutputFormatTable {
		return out.WriteSuccess("config.show", configTable(appConfig))
	}
	return out.WriteSuccess("config.show", appConfig)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	out := newOutput()
	key, value := args[0], args[1]

	path, err := configPath()
	if err != nil {
		return err
	}
	// The file alone, so environment overrides are not persisted
	cfg, err := config.LoadFile(path)
	if err != nil {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Err()
	}
	if err := cfg.Set(key, value); err != nil {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).
			WithContext("key", key).
			Err()
	}
	if err := cfg.SaveTo(path); err != nil {
		return utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Err()
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := newOutput()

	path, err := configPath()
	if err != nil {
		return err
	}
	cfg := config.DefaultConfig()
	if err := cfg.SaveTo(path); err != nil {
		return utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("failed to reset configuration: %v", err)).Err()
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", configTable(cfg))
}
