// Package dsp implements the deterministic transform chain applied to every
// buffer before enhancement and delivery: tier gain staging, frequency-domain
// EQ and room correction, dynamic range compression, harmonic compensation
// and output limiting.
//
// A Chain instance is not safe for concurrent use; the queue layer gives each
// worker its own chain. Apart from the rolling THD estimate and the
// compressor envelope, processing is stateless per call.
package dsp

import (
	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
)

// thdSmoothing weights the rolling THD estimate: 90% history, 10% newest
// measurement.
const thdSmoothing = 0.9

// Chain is the fixed transform pipeline for one worker. Stage order is
// gain, spectral (EQ + room correction), compressor, harmonic compensation,
// limiter. Gain staging and the limiter are always active; the stages in
// between are built only when enabled in configuration.
type Chain struct {
	cfg  audio.Config
	gain float32

	spectral *spectralFilter
	comp     *compressor
	harm     *harmonicCompensator
	limiter  limiter

	// reference snapshot taken before the waveshaping stages, used to
	// measure the harmonic distortion they introduce. The compressor sits
	// above the snapshot: its gain modulation is broadband, not harmonic.
	linRef []float32

	thdEstimate float64
}

// NewChain validates the DSP settings against the audio configuration and
// precomputes all filter state. Configuration errors are reported before any
// audio flows; nothing is validated again per buffer beyond cheap bounds
// checks.
func NewChain(settings *conf.DSPSettings, cfg audio.Config) (*Chain, error) {
	if settings.LimiterCeiling <= 0 || settings.LimiterCeiling > 1 {
		return nil, errors.Newf("limiter ceiling %.3f outside (0, 1]", settings.LimiterCeiling).
			Component("dsp").
			Category(errors.CategoryConfiguration).
			Context("limiter_ceiling", settings.LimiterCeiling).
			Build()
	}

	spectral, err := newSpectralFilter(settings, cfg)
	if err != nil {
		return nil, err
	}

	var comp *compressor
	if settings.Compressor.Enabled {
		comp, err = newCompressor(&settings.Compressor, cfg)
		if err != nil {
			return nil, err
		}
	}

	var harm *harmonicCompensator
	if settings.THD.Enabled {
		harm = newHarmonicCompensator(settings.THD.SecondHarmonic, settings.THD.ThirdHarmonic)
	}

	return &Chain{
		cfg:      cfg,
		gain:     float32(cfg.Tier.Gain()),
		spectral: spectral,
		comp:     comp,
		harm:     harm,
		limiter:  limiter{ceiling: float32(settings.LimiterCeiling)},
		linRef:   make([]float32, conf.MaxBufferSize),
	}, nil
}

// Process runs the chain over the buffer in place. The sample count never
// changes. All scratch space is pre-allocated, so the call is allocation-free.
func (c *Chain) Process(buf *audio.Buffer) error {
	if buf == nil || buf.Len() == 0 {
		return errors.Newf("cannot process empty buffer").
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}

	samples := buf.Samples()
	if len(samples) < conf.MinBufferSize || len(samples) > conf.MaxBufferSize {
		return errors.Newf("buffer length %d outside [%d, %d]", len(samples), conf.MinBufferSize, conf.MaxBufferSize).
			Component("dsp").
			Category(errors.CategoryValidation).
			BufferContext(len(samples), buf.Cap()).
			Build()
	}
	if len(samples)%c.cfg.Channels != 0 {
		return errors.Newf("buffer length %d not aligned to %d channels", len(samples), c.cfg.Channels).
			Component("dsp").
			Category(errors.CategoryValidation).
			BufferContext(len(samples), buf.Cap()).
			Build()
	}

	// Stage 1: tier gain staging, always on
	applyGain(samples, c.gain)

	// Stage 2: frequency-domain EQ and room correction
	if c.spectral != nil {
		c.spectral.apply(samples)
	}

	// Stage 3: dynamics
	if c.comp != nil {
		c.comp.apply(samples)
	}

	// Snapshot the signal so the distortion added by the waveshaping
	// stages below can be measured
	ref := c.linRef[:len(samples)]
	copy(ref, samples)

	// Stage 4: harmonic predistortion
	if c.harm != nil {
		c.harm.apply(samples)
	}

	// Stage 5: output limiter, always on
	c.limiter.apply(samples)

	c.updateTHD(distortionRatio(ref, samples))
	return nil
}

// updateTHD folds one measurement into the rolling estimate.
func (c *Chain) updateTHD(sample float64) {
	c.thdEstimate = thdSmoothing*c.thdEstimate + (1-thdSmoothing)*sample
}

// THDEstimate returns the rolling total harmonic distortion estimate.
func (c *Chain) THDEstimate() float64 {
	return c.thdEstimate
}

// SNREstimate reports the effective signal-to-noise ratio of the last
// processed material at the configured bit depth.
func (c *Chain) SNREstimate(samples []float32) float64 {
	return estimateSNR(samples, c.cfg.BitDepth)
}

// Config returns the audio configuration this chain was built for.
func (c *Chain) Config() audio.Config {
	return c.cfg
}

// applyGain multiplies every sample by a constant factor. Tier gains never
// exceed unity, so no clipping can occur here.
func applyGain(samples []float32, gain float32) {
	if gain == 1.0 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}
