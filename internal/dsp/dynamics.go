package dsp

import (
	"math"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
)

// Compressor parameter limits. Values outside these ranges indicate a broken
// configuration rather than an aggressive one, so construction fails instead
// of clamping.
const (
	compThresholdMinDB = -60.0
	compThresholdMaxDB = 0.0
	compRatioMin       = 1.0
	compRatioMax       = 100.0
	compAttackMinMs    = 0.1
	compAttackMaxMs    = 1000.0
	compReleaseMinMs   = 1.0
	compReleaseMaxMs   = 5000.0
	compMakeupMaxDB    = 24.0
)

// compressor implements feed-forward dynamic range compression with a single
// peak envelope shared across channels, so stereo imaging is not skewed by
// per-channel gain differences. The envelope persists between buffers.
type compressor struct {
	threshold float64 // linear
	slope     float64 // 1/ratio - 1, exponent of the gain curve
	attack    float64 // per-frame smoothing coefficient
	release   float64
	makeup    float64 // linear
	channels  int

	envelope float64
}

func newCompressor(settings *conf.CompressorSettings, cfg audio.Config) (*compressor, error) {
	switch {
	case settings.Threshold < compThresholdMinDB || settings.Threshold > compThresholdMaxDB:
		return nil, compressorConfigError("threshold", settings.Threshold, compThresholdMinDB, compThresholdMaxDB)
	case settings.Ratio < compRatioMin || settings.Ratio > compRatioMax:
		return nil, compressorConfigError("ratio", settings.Ratio, compRatioMin, compRatioMax)
	case settings.AttackMs < compAttackMinMs || settings.AttackMs > compAttackMaxMs:
		return nil, compressorConfigError("attack", settings.AttackMs, compAttackMinMs, compAttackMaxMs)
	case settings.ReleaseMs < compReleaseMinMs || settings.ReleaseMs > compReleaseMaxMs:
		return nil, compressorConfigError("release", settings.ReleaseMs, compReleaseMinMs, compReleaseMaxMs)
	case settings.MakeupDB < 0 || settings.MakeupDB > compMakeupMaxDB:
		return nil, compressorConfigError("makeup gain", settings.MakeupDB, 0, compMakeupMaxDB)
	}

	sr := float64(cfg.SampleRate)
	return &compressor{
		threshold: math.Pow(10, settings.Threshold/20),
		slope:     1/settings.Ratio - 1,
		attack:    math.Exp(-1 / (settings.AttackMs * 0.001 * sr)),
		release:   math.Exp(-1 / (settings.ReleaseMs * 0.001 * sr)),
		makeup:    math.Pow(10, settings.MakeupDB/20),
		channels:  cfg.Channels,
	}, nil
}

func compressorConfigError(param string, value, low, high float64) error {
	return errors.Newf("compressor %s %.2f outside [%.1f, %.1f]", param, value, low, high).
		Component("dsp").
		Category(errors.CategoryConfiguration).
		Context("parameter", param).
		Build()
}

// apply compresses the interleaved samples in place.
func (c *compressor) apply(samples []float32) {
	frames := len(samples) / c.channels

	for f := range frames {
		base := f * c.channels

		// frame peak across channels drives the shared envelope
		peak := 0.0
		for ch := range c.channels {
			if v := math.Abs(float64(samples[base+ch])); v > peak {
				peak = v
			}
		}

		coef := c.release
		if peak > c.envelope {
			coef = c.attack
		}
		c.envelope = coef*c.envelope + (1-coef)*peak

		gain := c.makeup
		if c.envelope > c.threshold {
			gain *= math.Pow(c.envelope/c.threshold, c.slope)
		}

		for ch := range c.channels {
			samples[base+ch] = float32(float64(samples[base+ch]) * gain)
		}
	}
}

// limiter hard-clips samples to the configured ceiling. It is the last stage
// of the chain and is never disabled.
type limiter struct {
	ceiling float32
}

func (l limiter) apply(samples []float32) {
	for i, v := range samples {
		switch {
		case v > l.ceiling:
			samples[i] = l.ceiling
		case v < -l.ceiling:
			samples[i] = -l.ceiling
		}
	}
}
