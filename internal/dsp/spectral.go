package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
)

// spectralFilter applies parametric EQ and room correction as a single
// zero-phase magnitude mask over fixed-size FFT blocks. The mask folds
// every enabled band into one gain curve, so the per-buffer cost does not
// grow with the band count.
//
// All transform state is allocated once at construction. apply performs no
// allocations on the audio path.
type spectralFilter struct {
	fft      *fourier.FFT
	n        int
	channels int

	// mask holds the combined band magnitude response per FFT bin
	mask []float64

	block  []float64
	coeffs []complex128
}

// newSpectralFilter builds the combined mask for all enabled EQ and room
// correction bands. It returns nil when no band is active so the chain can
// skip the stage entirely.
func newSpectralFilter(settings *conf.DSPSettings, cfg audio.Config) (*spectralFilter, error) {
	var bands []conf.EqualizerBand
	if settings.Equalizer.Enabled {
		bands = append(bands, settings.Equalizer.Bands...)
	}
	if settings.RoomCorrection.Enabled {
		bands = append(bands, settings.RoomCorrection.Bands...)
	}
	if len(bands) == 0 {
		return nil, nil
	}

	nyquist := float64(cfg.SampleRate) / 2
	for _, band := range bands {
		if band.Frequency >= nyquist {
			return nil, errors.Newf("band frequency %.0f Hz at or above Nyquist %.0f Hz", band.Frequency, nyquist).
				Component("dsp").
				Category(errors.CategoryConfiguration).
				Context("sample_rate", cfg.SampleRate).
				Build()
		}
	}

	n := conf.FFTSize
	mask := make([]float64, n/2+1)
	for k := range mask {
		w := 2 * math.Pi * float64(k) / float64(n)
		gain := 1.0
		for _, band := range bands {
			gain *= newPeaking(float64(cfg.SampleRate), band.Frequency, band.Q, band.Gain).magnitudeAt(w)
		}
		mask[k] = gain
	}

	return &spectralFilter{
		fft:      fourier.NewFFT(n),
		n:        n,
		channels: cfg.Channels,
		mask:     mask,
		block:    make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
	}, nil
}

// apply filters the interleaved samples in place, one channel at a time.
// Partial trailing blocks are zero-padded for the transform and only the
// original sample positions are written back.
func (s *spectralFilter) apply(samples []float32) {
	frames := len(samples) / s.channels
	invN := 1 / float64(s.n)

	for ch := range s.channels {
		for start := 0; start < frames; start += s.n {
			count := min(s.n, frames-start)
			for i := range count {
				s.block[i] = float64(samples[(start+i)*s.channels+ch])
			}
			for i := count; i < s.n; i++ {
				s.block[i] = 0
			}

			s.fft.Coefficients(s.coeffs, s.block)
			for k := range s.coeffs {
				s.coeffs[k] *= complex(s.mask[k], 0)
			}
			// Sequence does not normalize the inverse transform
			s.fft.Sequence(s.block, s.coeffs)

			for i := range count {
				samples[(start+i)*s.channels+ch] = float32(s.block[i] * invN)
			}
		}
	}
}
