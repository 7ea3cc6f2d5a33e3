// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	// Validate Audio settings
	if err := ValidateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate DSP settings
	if err := validateDSPSettings(&settings.DSP); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Pool settings
	if err := validatePoolSettings(&settings.Pool); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Scheduler settings
	if err := validateSchedulerSettings(&settings.Scheduler); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Queue settings
	if err := validateQueueSettings(&settings.Queue); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Gateway settings
	if err := validateGatewaySettings(&settings.Gateway); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// If there are any errors, return the ValidationError
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// ValidateAudioSettings validates the hardware audio format. Exported so the
// gateway can fail fast on renegotiation requests before touching the pipeline.
func ValidateAudioSettings(settings *AudioSettings) error {
	var errs []string

	// Check the sample rate against the supported DAC clock family
	if !slices.Contains(SupportedSampleRates, settings.SampleRate) {
		errs = append(errs, fmt.Sprintf("audio sample rate %d Hz is not supported", settings.SampleRate))
	}

	// Check the bit depth
	if !slices.Contains(SupportedBitDepths, settings.BitDepth) {
		errs = append(errs, fmt.Sprintf("audio bit depth %d is not supported", settings.BitDepth))
	}

	// Check the channel count against the hardware ceiling
	if settings.Channels < 1 || settings.Channels > MaxChannels {
		errs = append(errs, fmt.Sprintf("audio channel count must be between 1 and %d", MaxChannels))
	}

	// Check buffer size bounds
	if settings.BufferSize < MinBufferSize || settings.BufferSize > MaxBufferSize {
		errs = append(errs, fmt.Sprintf("audio buffer size must be between %d and %d samples", MinBufferSize, MaxBufferSize))
	}

	// Check the quality tier name
	switch settings.Quality {
	case TierMaximum, TierBalanced, TierPowerSaver:
	default:
		errs = append(errs, fmt.Sprintf("audio quality tier %q is not one of maximum, balanced, powersaver", settings.Quality))
	}

	// The buffer duration alone must fit the latency budget, otherwise the
	// configuration can never meet real-time requirements
	if settings.SampleRate > 0 {
		latencyMs := float64(settings.BufferSize) / float64(settings.SampleRate) * 1000.0
		if latencyMs > LatencyBudgetMs {
			errs = append(errs, fmt.Sprintf("buffer of %d samples at %d Hz takes %.1f ms, over the %.0f ms budget",
				settings.BufferSize, settings.SampleRate, latencyMs, LatencyBudgetMs))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateDSPSettings validates the transform chain configuration
func validateDSPSettings(settings *DSPSettings) error {
	var errs []string

	// Limiter ceiling must be a usable linear level
	if settings.LimiterCeiling <= 0 || settings.LimiterCeiling > 1 {
		errs = append(errs, "dsp limiter ceiling must be within (0, 1]")
	}

	// Check equalizer bands
	for i, band := range settings.Equalizer.Bands {
		if band.Frequency <= 0 {
			errs = append(errs, fmt.Sprintf("equalizer band %d frequency must be positive", i))
		}
		if band.Q <= 0 {
			errs = append(errs, fmt.Sprintf("equalizer band %d Q must be positive", i))
		}
	}

	// Check room correction bands
	for i, band := range settings.RoomCorrection.Bands {
		if band.Frequency <= 0 {
			errs = append(errs, fmt.Sprintf("room correction band %d frequency must be positive", i))
		}
		if band.Q <= 0 {
			errs = append(errs, fmt.Sprintf("room correction band %d Q must be positive", i))
		}
	}

	// Compressor sanity
	if settings.Compressor.Enabled {
		if settings.Compressor.Ratio < 1 {
			errs = append(errs, "compressor ratio must be at least 1")
		}
		if settings.Compressor.AttackMs <= 0 || settings.Compressor.ReleaseMs <= 0 {
			errs = append(errs, "compressor attack and release must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validatePoolSettings validates buffer pool sizing
func validatePoolSettings(settings *PoolSettings) error {
	if settings.Capacity < 1 {
		return fmt.Errorf("pool capacity must be at least 1")
	}
	return nil
}

// validateSchedulerSettings validates the adaptive scheduler configuration
func validateSchedulerSettings(settings *SchedulerSettings) error {
	var errs []string

	if settings.MinBatch < 1 {
		errs = append(errs, "scheduler min batch must be at least 1")
	}
	if settings.MaxBatch < settings.MinBatch {
		errs = append(errs, "scheduler max batch must not be below min batch")
	}
	if settings.BreakerRatio <= 0 || settings.BreakerRatio >= 1 {
		errs = append(errs, "scheduler breaker ratio must be within (0, 1)")
	}
	if settings.LatencyFloorMs >= settings.LatencyTargetMs {
		errs = append(errs, "scheduler latency floor must be below the latency target")
	}
	if settings.ProbeInterval <= 0 {
		errs = append(errs, "scheduler probe interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateQueueSettings validates the processing queue configuration
func validateQueueSettings(settings *QueueSettings) error {
	var errs []string

	if settings.Workers < 1 {
		errs = append(errs, "queue workers must be at least 1")
	}
	if settings.MaxSize < 1 {
		errs = append(errs, "queue max size must be at least 1")
	}
	if settings.Retry.MaxRetries < 0 {
		errs = append(errs, "queue max retries must not be negative")
	}
	if settings.Retry.Multiplier < 1 {
		errs = append(errs, "queue retry multiplier must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateGatewaySettings validates the streaming gateway configuration
func validateGatewaySettings(settings *GatewaySettings) error {
	var errs []string

	if !settings.Enabled {
		return nil
	}

	// Listen address must parse as host:port
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("gateway listen address %q is invalid: %v", settings.Listen, err))
	}

	if settings.MaxConnections < 1 {
		errs = append(errs, "gateway max connections must be at least 1")
	}
	if settings.MaxPayloadBytes < 1 {
		errs = append(errs, "gateway max payload bytes must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
