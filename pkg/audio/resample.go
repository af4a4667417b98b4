package audio

import "fmt"

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. When the rates match the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Downmix averages interleaved multi-channel samples into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	mono := make([]float32, n)
	for i := range mono {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// DecodeWAVMono decodes a 16-bit WAV stream into mono float32 samples at
// dstRate. A dstRate of 0 keeps the stream's own rate. The returned rate is
// the rate of the returned samples.
func DecodeWAVMono(data []byte, dstRate int) ([]float32, int, error) {
	pcm, rate, channels, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	samples := Downmix(PCM16ToFloat32(pcm), channels)
	if dstRate <= 0 {
		return samples, rate, nil
	}
	return Resample(samples, rate, dstRate), dstRate, nil
}
