package validate

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auralis/auralis-go/internal/alerts"
	"github.com/auralis/auralis-go/internal/buildinfo"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/sink"
)

// Command creates the validate command, which checks the configuration
// without starting the engine.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	result := check(settings)

	if file := viper.ConfigFileUsed(); file != "" {
		fmt.Printf("Configuration: %s\n\n", file)
	} else {
		fmt.Printf("Configuration: built-in defaults\n\n")
	}

	for _, msg := range result.Errors {
		fmt.Printf("❌ %s\n", msg)
	}
	for _, msg := range result.Warnings {
		fmt.Printf("⚠️ %s\n", msg)
	}
	if result.HasIssues() {
		fmt.Println()
	}

	if !result.Valid {
		return fmt.Errorf("configuration failed validation with %d error(s)", len(result.Errors))
	}

	fmt.Println("✅ Configuration is valid")
	fmt.Println()
	printSummary(settings)

	return nil
}

// check collects every startup-blocking problem plus the suspicious but
// survivable settings.
func check(settings *conf.Settings) *buildinfo.ValidationResult {
	result := buildinfo.NewValidationResult()

	if err := conf.ValidateSettings(settings); err != nil {
		var ve conf.ValidationError
		if stderrors.As(err, &ve) {
			for _, msg := range ve.Errors {
				result.AddError(msg)
			}
		} else {
			result.AddError(err.Error())
		}
	}

	if settings.Enhancer.Enabled {
		if settings.Enhancer.ModelPath == "" {
			result.AddError("enhancer is enabled without a model path")
		} else if _, err := os.Stat(settings.Enhancer.ModelPath); err != nil {
			result.AddError(fmt.Sprintf("enhancement model is not readable: %v", err))
		}
	}

	// The sink and alert constructors only parse, so running them here
	// surfaces the same errors startup would hit.
	if _, err := sink.FromSettings(&settings.Sinks, settings.Main.Name); err != nil {
		result.AddError(fmt.Sprintf("sink configuration: %v", err))
	}
	if _, err := alerts.NewNotifier(&settings.Alerts); err != nil {
		result.AddError(fmt.Sprintf("alert configuration: %v", err))
	}

	if settings.Alerts.Enabled && len(settings.Alerts.URLs) == 0 {
		result.AddWarning("alerts are enabled with no notification URLs, nothing will be sent")
	}
	if settings.Capture.Enabled && settings.Capture.Path == "" {
		result.AddWarning("capture is enabled with an empty path, clips will land in the working directory")
	}
	if settings.Main.Log.Enabled && settings.Main.Log.Path == "" {
		result.AddWarning("file logging is enabled with an empty path")
	}

	return result
}

func printSummary(settings *conf.Settings) {
	latencyMs := float64(settings.Audio.BufferSize) / float64(settings.Audio.SampleRate) * 1000

	fmt.Printf("Node:      %s\n", settings.Main.Name)
	fmt.Printf("Format:    %d Hz / %d-bit / %d channels\n",
		settings.Audio.SampleRate, settings.Audio.BitDepth, settings.Audio.Channels)
	fmt.Printf("Buffer:    %d samples (%.2f ms)\n", settings.Audio.BufferSize, latencyMs)
	fmt.Printf("Tier:      %s\n", settings.Audio.Quality)
	fmt.Printf("Workers:   %d\n", settings.Queue.Workers)
	if settings.Enhancer.Enabled {
		fmt.Printf("Enhancer:  %s\n", settings.Enhancer.ModelPath)
	} else {
		fmt.Printf("Enhancer:  disabled\n")
	}
	if settings.Gateway.Enabled {
		fmt.Printf("Gateway:   %s (max %d connections)\n",
			settings.Gateway.Listen, settings.Gateway.MaxConnections)
	} else {
		fmt.Printf("Gateway:   disabled\n")
	}
}
