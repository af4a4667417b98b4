package audio

import (
	"encoding/binary"
	"math"
)

// EncodeFloat32 serialises samples as little-endian float32.
func EncodeFloat32(samples []float32) []byte {
	return AppendFloat32(make([]byte, 0, len(samples)*BytesPerSample), samples)
}

// AppendFloat32 appends the little-endian float32 encoding of samples to dst.
func AppendFloat32(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// DecodeFloat32 parses little-endian float32 samples. Trailing bytes that do
// not form a whole sample are ignored.
func DecodeFloat32(b []byte) []float32 {
	n := len(b) / BytesPerSample
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerSample:]))
	}
	return out
}

// Float32ToPCM16 converts float32 samples to 16-bit signed little-endian PCM,
// clamping values outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * math.MaxInt16
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples.
// An odd trailing byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// Chunk splits samples into frames of size samples each, numbering them from
// firstSeq. The final frame is zero-padded so every frame has the same size.
func Chunk(samples []float32, size, sampleRate int, firstSeq uint64) []Frame {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([]Frame, 0, (len(samples)+size-1)/size)
	seq := firstSeq
	for off := 0; off < len(samples); off += size {
		block := make([]float32, size)
		copy(block, samples[off:min(off+size, len(samples))])
		frames = append(frames, Frame{Samples: block, Seq: seq, SampleRate: sampleRate})
		seq++
	}
	return frames
}

// Silence returns a frame of n zero samples.
func Silence(n, sampleRate int) Frame {
	return Frame{Samples: make([]float32, n), SampleRate: sampleRate}
}
