// Package audio implements the sample-domain operations of the synthesis
// pipeline: time-stretching, 16-bit quantization, linear resampling and the
// uncompressed PCM WAV container.
//
// Waveforms are plain []float64 slices with samples nominally in [-1, 1]; the
// sample rate travels alongside in caller-owned state. All functions are pure
// and allocate their results, with the documented identity shortcuts as the
// only exceptions.
package audio

// S16ToFloat converts signed 16-bit PCM samples to float64 in [-1, 1).
func S16ToFloat(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i, s := range pcm {
		out[i] = float64(s) / 32768
	}
	return out
}

// EncodePCM serialises 16-bit samples as raw little-endian bytes, the frame
// format streaming endpoints deliver.
func EncodePCM(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// QuantizeS16 converts float samples to signed 16-bit PCM by scaling with
// 32767 and truncating toward zero. Samples outside [-1, 1] are not clamped:
// the conversion runs through int32, so oversized values wrap the way 16-bit
// integer truncation wraps. Keeping input in range is the caller's job.
func QuantizeS16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(int32(s * 32767))
	}
	return out
}
