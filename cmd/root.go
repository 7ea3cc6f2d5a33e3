package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auralis/auralis-go/cmd/bench"
	"github.com/auralis/auralis-go/cmd/serve"
	"github.com/auralis/auralis-go/cmd/validate"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "auralis",
		Short: "Auralis realtime audio enhancement engine",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		rootCmd.PrintErrf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		bench.Command(settings),
		validate.Command(settings),
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Flags are parsed by now, so the debug switch is authoritative.
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		if settings.Main.Log.Enabled && settings.Main.Log.Path != "" {
			if _, err := logging.EnableFileOutput(settings.Main.Log.Path, logging.FileRotation{
				MaxSizeMB:  settings.Main.Log.MaxSizeMB,
				MaxBackups: settings.Main.Log.MaxBackups,
				MaxAgeDays: settings.Main.Log.MaxAgeDays,
			}); err != nil {
				logging.Warn("file logging disabled", "path", settings.Main.Log.Path, "error", err)
			}
		}
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
