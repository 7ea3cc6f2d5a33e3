// Package audio defines the core sample types shared across the pipeline:
// fixed-format buffers, the pre-allocated buffer pool, and the immutable
// hardware configuration snapshot.
package audio

import (
	"fmt"
	"strings"

	"github.com/auralis/auralis-go/internal/conf"
)

// Tier selects the power/quality trade-off the DSP chain runs at.
type Tier int

const (
	// TierMaximum runs at full output gain
	TierMaximum Tier = iota
	// TierBalanced trades a little headroom for power
	TierBalanced
	// TierPowerSaver reduces output gain to cut amplifier draw
	TierPowerSaver
)

// String returns the configuration name of the tier
func (t Tier) String() string {
	switch t {
	case TierMaximum:
		return conf.TierMaximum
	case TierBalanced:
		return conf.TierBalanced
	case TierPowerSaver:
		return conf.TierPowerSaver
	default:
		return "unknown"
	}
}

// Gain returns the gain staging factor applied by the DSP chain for this tier.
func (t Tier) Gain() float64 {
	switch t {
	case TierMaximum:
		return 1.0
	case TierBalanced:
		return 0.95
	case TierPowerSaver:
		return 0.9
	default:
		return 1.0
	}
}

// ParseTier converts a configuration tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case conf.TierMaximum:
		return TierMaximum, nil
	case conf.TierBalanced:
		return TierBalanced, nil
	case conf.TierPowerSaver:
		return TierPowerSaver, nil
	default:
		return TierBalanced, fmt.Errorf("unknown quality tier %q", s)
	}
}

// Config is an immutable snapshot of the hardware audio format. A change to
// any field requires re-initializing the pipeline; nothing mutates a Config
// in place.
type Config struct {
	SampleRate int  // samples per second
	BitDepth   int  // bits per sample on the wire
	Channels   int  // interleaved channel count
	BufferSize int  // samples per processing buffer
	Tier       Tier // quality tier
}

// ConfigFromSettings validates the configured audio format and converts it
// into a typed snapshot. Invalid hardware settings are rejected here, before
// any pipeline component is built.
func ConfigFromSettings(s *conf.AudioSettings) (Config, error) {
	if err := conf.ValidateAudioSettings(s); err != nil {
		return Config{}, err
	}

	tier, err := ParseTier(s.Quality)
	if err != nil {
		return Config{}, err
	}

	return Config{
		SampleRate: s.SampleRate,
		BitDepth:   s.BitDepth,
		Channels:   s.Channels,
		BufferSize: s.BufferSize,
		Tier:       tier,
	}, nil
}

// LatencyMs returns the duration of one buffer in milliseconds.
func (c Config) LatencyMs() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(c.BufferSize) / float64(c.SampleRate) * 1000.0
}

// QualityMetrics is produced once per processed buffer and feeds the
// quality monitor and the external sinks.
type QualityMetrics struct {
	THD              float64 // total harmonic distortion ratio
	SNR              float64 // signal to noise ratio in dB
	LatencyMs        float64 // processing latency in milliseconds
	EnhancementDelta float64 // normalized RMS delta added by enhancement
}
