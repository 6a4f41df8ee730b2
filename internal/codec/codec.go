package codec

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	MimeTypeGSM  = "audio/GSM"
	MimeTypeG729 = "audio/G729"

	// DefaultFrameDuration is the fixed packetization interval used for every call.
	DefaultFrameDuration = 20 * time.Millisecond
)

var (
	ErrNoCodecsAvailable = errors.New("no codecs available")
	ErrUnsupportedCodec  = errors.New("unsupported codec")
)

// Codec is one registered audio payload format.
type Codec struct {
	Name                 string        `json:"name"`
	PayloadType          uint8         `json:"payload_type"`
	ClockRate            uint32        `json:"clock_rate"`
	Channels             uint16        `json:"channels"`
	FrameDuration        time.Duration `json:"frame_duration"`
	EncodedBytesPerFrame int           `json:"encoded_bytes_per_frame"`
	MimeType             string        `json:"mime_type"`
}

func (c Codec) SamplesPerFrame() int {
	return int(uint64(c.ClockRate) * uint64(c.FrameDuration) / uint64(time.Second))
}

// SamplesFor converts an encoded payload length into a sample count using
// the codec frame geometry.
func (c Codec) SamplesFor(encodedBytes int) int {
	if c.EncodedBytesPerFrame <= 0 || encodedBytes <= 0 {
		return 0
	}
	return encodedBytes * c.SamplesPerFrame() / c.EncodedBytesPerFrame
}

// DurationFor is the playout time covered by encodedBytes.
func (c Codec) DurationFor(encodedBytes int) time.Duration {
	if c.ClockRate == 0 {
		return 0
	}
	return time.Duration(c.SamplesFor(encodedBytes)) * time.Second / time.Duration(c.ClockRate)
}

func (c Codec) Parameters() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

// Registry keeps codecs in registration order.
type Registry struct {
	mu     sync.RWMutex
	codecs []Codec
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a codec described by its RTP parameters. Registering the same
// name twice replaces the earlier entry in place.
func (r *Registry) Register(params webrtc.RTPCodecParameters, bytesPerFrame int) error {
	name := nameFromMime(params.MimeType)
	if name == "" || params.ClockRate == 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedCodec, params.MimeType)
	}
	channels := params.Channels
	if channels == 0 {
		channels = 1
	}
	c := Codec{
		Name:                 name,
		PayloadType:          uint8(params.PayloadType),
		ClockRate:            params.ClockRate,
		Channels:             channels,
		FrameDuration:        DefaultFrameDuration,
		EncodedBytesPerFrame: bytesPerFrame,
		MimeType:             params.MimeType,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.codecs {
		if strings.EqualFold(r.codecs[i].Name, name) {
			r.codecs[i] = c
			return nil
		}
	}
	r.codecs = append(r.codecs, c)
	return nil
}

func (r *Registry) All() []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Codec, len(r.codecs))
	copy(out, r.codecs)
	return out
}

func (r *Registry) Lookup(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Codec{}, false
}

func (r *Registry) ByPayloadType(pt uint8) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

func nameFromMime(mime string) string {
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		mime = mime[i+1:]
	}
	return strings.ToUpper(strings.TrimSpace(mime))
}

// DefaultRegistry registers the narrowband codecs a Jingle peer usually offers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defaults := []struct {
		mime  string
		pt    uint8
		bytes int
	}{
		{webrtc.MimeTypePCMU, 0, 160},
		{MimeTypeGSM, 3, 33},
		{webrtc.MimeTypePCMA, 8, 160},
		{webrtc.MimeTypeG722, 9, 160},
		{MimeTypeG729, 18, 20},
	}
	for _, d := range defaults {
		_ = r.Register(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: d.mime, ClockRate: 8000, Channels: 1},
			PayloadType:        webrtc.PayloadType(d.pt),
		}, d.bytes)
	}
	return r
}
