// env.go - Environment variable configuration and validation for Auralis
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Hardware audio format
		{"audio.samplerate", "AURALIS_SAMPLERATE", validateEnvSampleRate},
		{"audio.bitdepth", "AURALIS_BITDEPTH", validateEnvBitDepth},
		{"audio.channels", "AURALIS_CHANNELS", validateEnvChannels},
		{"audio.buffersize", "AURALIS_BUFFERSIZE", validateEnvBufferSize},
		{"audio.quality", "AURALIS_QUALITY", validateEnvQuality},

		// Enhancement model
		{"enhancer.enabled", "AURALIS_ENHANCER_ENABLED", validateEnvBool},
		{"enhancer.modelpath", "AURALIS_MODELPATH", validateEnvPath},
		{"enhancer.usexnnpack", "AURALIS_USEXNNPACK", validateEnvBool},
		{"enhancer.threads", "AURALIS_THREADS", validateEnvThreads},

		// Gateway
		{"gateway.listen", "AURALIS_LISTEN", nil},
		{"debug", "AURALIS_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		// Bind the environment variable to the config key
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Validate the value if it's set and validation function is provided
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvSampleRate(value string) error {
	rate, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid sample rate: %w", err)
	}
	for _, supported := range SupportedSampleRates {
		if rate == supported {
			return nil
		}
	}
	return fmt.Errorf("sample rate %d Hz is not supported", rate)
}

func validateEnvBitDepth(value string) error {
	depth, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid bit depth: %w", err)
	}
	for _, supported := range SupportedBitDepths {
		if depth == supported {
			return nil
		}
	}
	return fmt.Errorf("bit depth %d is not supported", depth)
}

func validateEnvChannels(value string) error {
	channels, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid channel count: %w", err)
	}
	if channels < 1 || channels > MaxChannels {
		return fmt.Errorf("channel count must be between 1 and %d, got %d", MaxChannels, channels)
	}
	return nil
}

func validateEnvBufferSize(value string) error {
	size, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid buffer size: %w", err)
	}
	if size < MinBufferSize || size > MaxBufferSize {
		return fmt.Errorf("buffer size must be between %d and %d, got %d", MinBufferSize, MaxBufferSize, size)
	}
	return nil
}

func validateEnvQuality(value string) error {
	switch strings.ToLower(value) {
	case TierMaximum, TierBalanced, TierPowerSaver:
		return nil
	}
	return fmt.Errorf("must be one of: %s, %s, %s", TierMaximum, TierBalanced, TierPowerSaver)
}

func validateEnvThreads(value string) error {
	threads, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid threads: %w", err)
	}
	if threads < 0 {
		return fmt.Errorf("threads must be non-negative, got %d", threads)
	}
	return nil
}

func validateEnvPath(value string) error {
	// Clean the path first to normalize it
	cleanedPath := filepath.Clean(value)

	// Require absolute paths for security
	if !filepath.IsAbs(cleanedPath) {
		return fmt.Errorf("path must be absolute, got relative path: %s", cleanedPath)
	}

	// Check for path traversal attempts after cleaning
	pathParts := strings.Split(cleanedPath, string(os.PathSeparator))
	for _, part := range pathParts {
		if part == ".." {
			return fmt.Errorf("path traversal detected in cleaned path: %s", cleanedPath)
		}
	}

	// Existence is not checked: the model may be installed after the
	// device is configured, and a missing file surfaces at load time.
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	// Set up key replacer for nested config keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables with validation
	// Return any errors to the caller for centralized handling
	return bindEnvVars()
}
