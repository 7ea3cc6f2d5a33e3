package dsp

// harmonicCompensator subtracts predicted second and third order harmonic
// products from the signal so they cancel against the ones the converter
// stage adds. Coefficients come from the device distortion profile and are
// small; typical values sit below 1e-3.
type harmonicCompensator struct {
	k2 float64
	k3 float64
}

func newHarmonicCompensator(second, third float64) *harmonicCompensator {
	return &harmonicCompensator{k2: second, k3: third}
}

// apply predistorts the samples in place. x - k2*x^2 - k3*x^3 inverts the
// converter polynomial to first order.
func (h *harmonicCompensator) apply(samples []float32) {
	for i, v := range samples {
		x := float64(v)
		samples[i] = float32(x - h.k2*x*x - h.k3*x*x*x)
	}
}
