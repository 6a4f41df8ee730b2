package codec

import (
	"fmt"
	"time"
)

// Implementation is a per-call codec instance fixed to one sample rate and
// packetization interval.
type Implementation struct {
	Codec Codec
	Rate  int
	Ptime time.Duration

	encode func([]int16) []byte
	decode func([]byte) []int16
}

func NewImplementation(c Codec, rate int, ptime time.Duration) (*Implementation, error) {
	if rate <= 0 || uint32(rate) != c.ClockRate {
		return nil, fmt.Errorf("%w: %s at %dHz", ErrUnsupportedCodec, c.Name, rate)
	}
	if ptime <= 0 {
		ptime = DefaultFrameDuration
	}
	impl := &Implementation{Codec: c, Rate: rate, Ptime: ptime}
	switch c.Name {
	case "PCMU":
		impl.encode, impl.decode = encodeULaw, decodeULaw
	case "PCMA":
		impl.encode, impl.decode = encodeALaw, decodeALaw
	}
	return impl, nil
}

// Transcodes reports whether the instance converts to and from linear PCM.
// Other codecs are carried as opaque encoded frames.
func (i *Implementation) Transcodes() bool {
	return i.encode != nil
}

func (i *Implementation) Encode(pcm []int16) ([]byte, error) {
	if i.encode == nil {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrUnsupportedCodec, i.Codec.Name)
	}
	return i.encode(pcm), nil
}

func (i *Implementation) Decode(data []byte) ([]int16, error) {
	if i.decode == nil {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedCodec, i.Codec.Name)
	}
	return i.decode(data), nil
}

func (i *Implementation) SamplesPerPacket() int {
	return int(int64(i.Rate) * int64(i.Ptime) / int64(time.Second))
}
