package audio

import (
	"errors"
	"io"
)

// Framer reassembles a raw float32 byte stream into fixed-size frames. The
// stream carries no framing of its own, so boundaries are recovered by
// dividing it into blocks of BlockSize samples.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	r          io.Reader
	buf        []byte
	blockSize  int
	sampleRate int
	seq        uint64
}

// NewFramer returns a Framer reading blockSize-sample frames from r.
func NewFramer(r io.Reader, blockSize, sampleRate int) *Framer {
	return &Framer{
		r:          r,
		buf:        make([]byte, blockSize*BytesPerSample),
		blockSize:  blockSize,
		sampleRate: sampleRate,
	}
}

// Next blocks until a whole frame is available and returns it. It returns
// io.EOF when the stream ends on a frame boundary; a trailing partial frame is
// discarded and also reported as io.EOF, since a peer closing mid-frame is an
// ordinary end of stream. Other read errors are returned unchanged.
func (f *Framer) Next() (Frame, error) {
	_, err := io.ReadFull(f.r, f.buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	fr := Frame{
		Samples:    DecodeFloat32(f.buf),
		Seq:        f.seq,
		SampleRate: f.sampleRate,
	}
	f.seq++
	return fr, nil
}
