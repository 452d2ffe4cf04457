package main

import (
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/logging"
	"github.com/agirails/canvas-core/internal/runtimeconfig"
)

// globalFlags holds the persistent flags every subcommand reads through
// viper.
type globalFlags struct {
	configPath string
	verbose    bool
}

var flags globalFlags

// eventColors styles a RuntimeEvent's Type for the terminal
// (info/success/warning/error).
var eventColors = map[domain.EventType]func(a ...interface{}) string{
	domain.EventInfo:    color.New(color.FgCyan).SprintFunc(),
	domain.EventSuccess: color.New(color.FgGreen).SprintFunc(),
	domain.EventWarning: color.New(color.FgYellow).SprintFunc(),
	domain.EventError:   color.New(color.FgRed).SprintFunc(),
}

func colorize(ev domain.RuntimeEvent) string {
	fn, ok := eventColors[ev.Type]
	if !ok {
		fn = color.New(color.FgWhite).SprintFunc()
	}
	return fn(string(ev.Type))
}

// NewRootCommand builds the canvas-sim command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "canvas-sim",
		Short:         "Headless driver for the AGIRAILS canvas simulator",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML runtime config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	viper.SetEnvPrefix("canvas")
	viper.AutomaticEnv()

	root.AddCommand(
		newRunCommand(),
		newReplayCommand(),
		newExportCommand(),
		newScenarioCommand(),
		newWatchCommand(),
		newReplCommand(),
		newDiffCommand(),
	)
	return root
}

// loadConfig resolves the config file path with flag-over-env precedence: an explicit --config flag wins, otherwise a
// CANVAS_CONFIG environment variable bound through viper.
func loadConfig() (runtimeconfig.Config, error) {
	path := flags.configPath
	if path == "" {
		path = viper.GetString("config")
	}
	return runtimeconfig.Load(path)
}

func newLogger() logging.Logger {
	level := slog.LevelInfo
	if flags.verbose || viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return logging.NewText(level)
}
