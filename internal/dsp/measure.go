package dsp

import "math"

// RMS returns the root mean square level of the samples, 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// distortionRatio measures the energy the nonlinear stages added or removed
// relative to the linear reference signal. Silence measures as zero
// distortion.
func distortionRatio(reference, processed []float32) float64 {
	var refEnergy, residual float64
	for i := range reference {
		r := float64(reference[i])
		d := float64(processed[i]) - r
		refEnergy += r * r
		residual += d * d
	}
	if refEnergy == 0 {
		return 0
	}
	return math.Sqrt(residual / refEnergy)
}

// estimateSNR reports the effective signal-to-noise ratio in dB for the
// given program level at the given bit depth. The quantization noise floor
// is fixed by the bit depth; signal below full scale loses headroom dB for
// dB.
func estimateSNR(samples []float32, bitDepth int) float64 {
	// full-scale SNR of an ideal quantizer
	fullScale := 6.02*float64(bitDepth) + 1.76

	rms := RMS(samples)
	if rms <= 0 {
		return 0
	}
	snr := fullScale + 20*math.Log10(rms)
	if snr < 0 {
		return 0
	}
	return snr
}
