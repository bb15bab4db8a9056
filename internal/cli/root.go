package cli

import (
	"fmt"
	"os"

	"github.com/dl-alexandre/gsyncfs/internal/config"
	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/dl-alexandre/gsyncfs/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags    types.GlobalFlags
	logger         logging.Logger = logging.NewNoOpLogger()
	appConfig      *config.Config
	debugTransport *logging.DebugTransport
)

var rootCmd = &cobra.Command{
	Use:   "gsyncfs",
	Short: "gsyncfs - keep a local directory synchronized with Google Drive",
	Long: `gsyncfs keeps an application directory synchronized between the local
filesystem and a folder in Google Drive.

Local writes are pushed as they happen, remote changes are pulled by an
adaptive poller, and every command supports JSON output for automation.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Err()
		}
		appConfig = cfg

		if !cmd.Flags().Changed("output") {
			globalFlags.OutputFormat = cfg.DefaultOutputFormat
		}
		if !cmd.Flags().Changed("profile") && cfg.DefaultProfile != "" {
			globalFlags.Profile = cfg.DefaultProfile
		}
		if err := validateGlobalFlags(); err != nil {
			return err
		}

		logConfig := logging.DefaultLogConfig()
		logConfig.Level = logging.ParseLevel(cfg.LogLevel)
		logConfig.OutputFile = cfg.LogFile
		logConfig.EnableColor = cfg.ColorOutput
		logConfig.EnableConsole = !globalFlags.Quiet
		logConfig.EnableDebug = globalFlags.Debug
		if globalFlags.LogFile != "" {
			logConfig.OutputFile = globalFlags.LogFile
		}
		if globalFlags.Verbose || globalFlags.Debug {
			logConfig.Level = logging.DEBUG
		}
		// JSON output owns stdout and stderr stays quiet unless asked for
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		logger, debugTransport, err = logging.NewDebugLoggerWithTransport(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		info := version.Get()
		if globalFlags.OutputFormat == types.OutputFormatJSON {
			return out.WriteSuccess("version", info)
		}
		fmt.Fprintln(out.stdout, info.String())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "default", "Authentication profile to use")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every Drive request")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if globalFlags.Config != "" {
		return config.LoadFrom(globalFlags.Config)
	}
	return config.Load()
}

func validateGlobalFlags() error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}
	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", globalFlags.OutputFormat)).Err()
	}
	return nil
}

// Execute runs the root command and exits with the code of the failure
func Execute() {
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return
	}
	out := newOutput()
	_ = out.WriteError(commandName(cmd), asCLIError(err))
	os.Exit(utils.GetExitCode(utils.ErrorCode(err)))
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}

// commandName is the dotted path below the root, "policy.set" for
// `gsyncfs policy set`
func commandName(cmd *cobra.Command) string {
	if cmd == nil || cmd == rootCmd {
		return "gsyncfs"
	}
	name := cmd.Name()
	for p := cmd.Parent(); p != nil && p != rootCmd; p = p.Parent() {
		name = p.Name() + "." + name
	}
	return name
}
