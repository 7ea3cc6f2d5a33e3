package dsp

import (
	"math"
	"math/cmplx"
)

// biquad holds peaking filter coefficients from the RBJ audio EQ cookbook,
// normalized by a0. The chain never runs these as time-domain IIR sections;
// it evaluates their magnitude response on the FFT bin grid and applies the
// result as a zero-phase spectral mask.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// newPeaking computes peaking EQ coefficients for a band centered at
// frequency with the given Q and gain in dB.
func newPeaking(sampleRate, frequency, q, gainDB float64) biquad {
	w0 := 2 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	a := math.Pow(10, gainDB/40)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha/a
	return biquad{
		b0: (1 + alpha*a) / a0,
		b1: (-2 * cosw0) / a0,
		b2: (1 - alpha*a) / a0,
		a1: (-2 * cosw0) / a0,
		a2: (1 - alpha/a) / a0,
	}
}

// magnitudeAt evaluates |H(e^jw)| at the normalized angular frequency w.
func (f biquad) magnitudeAt(w float64) float64 {
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	num := complex(f.b0, 0) + complex(f.b1, 0)*z1 + complex(f.b2, 0)*z2
	den := complex(1, 0) + complex(f.a1, 0)*z1 + complex(f.a2, 0)*z2
	return cmplx.Abs(num / den)
}
