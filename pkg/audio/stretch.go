package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// TimeStretch changes the playback duration of samples by the given factor
// using frequency-domain resampling: factor 2.0 halves the length, factor
// 0.5 doubles it. The output length is round(len(samples)/factor). Duration
// and pitch shift together; this transform intentionally does not preserve
// pitch, and callers relying on its output must not substitute a
// pitch-preserving algorithm.
//
// A factor of exactly 1.0 is the identity and returns samples unchanged
// without copying. Factors must be positive; callers validate before calling.
func TimeStretch(samples []float64, factor float64) []float64 {
	if factor == 1.0 || len(samples) == 0 {
		return samples
	}
	n := len(samples)
	dstLen := int(math.Round(float64(n) / factor))
	if dstLen <= 0 {
		return nil
	}

	fft := fourier.NewFFT(n)
	spectrum := fft.Coefficients(nil, samples)

	// Truncate (speed up) or zero-pad (slow down) the half-complex spectrum
	// to the target length.
	dstSpectrum := make([]complex128, dstLen/2+1)
	minLen := min(n, dstLen)
	nyq := minLen/2 + 1
	copy(dstSpectrum, spectrum[:nyq])

	// An even shorter-side length carries a dedicated Nyquist bin: it is
	// doubled when truncating and halved when padding so the inverse stays
	// real-valued with the right energy.
	if minLen%2 == 0 {
		switch {
		case dstLen < n:
			dstSpectrum[minLen/2] *= 2
		case dstLen > n:
			dstSpectrum[minLen/2] *= 0.5
		}
	}

	inv := fourier.NewFFT(dstLen)
	out := inv.Sequence(nil, dstSpectrum)

	// The forward/inverse pair is unnormalized; one division by the forward
	// length restores amplitudes.
	scale := 1 / float64(n)
	for i := range out {
		out[i] *= scale
	}
	return out
}
