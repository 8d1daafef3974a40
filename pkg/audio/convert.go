package audio

// ResampleLinear resamples mono float samples from srcRate to dstRate using
// linear interpolation. It serves rate conversion between a backend's native
// output rate and the requested rate; duration in seconds is preserved. If
// either rate is non-positive, the rates match, or the input is shorter than
// two samples, the input is returned unchanged.
func ResampleLinear(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	srcLen := len(samples)
	dstLen := int(int64(srcLen) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float64, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcLen {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// StereoToMono averages interleaved stereo samples (L, R, L, R, ...) into a
// mono waveform. A trailing unpaired sample is dropped.
func StereoToMono(samples []float64) []float64 {
	frames := len(samples) / 2
	out := make([]float64, frames)
	for i := range frames {
		out[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return out
}
