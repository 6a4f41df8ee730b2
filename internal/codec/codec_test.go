package codec

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(codecs []Codec) []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = c.Name
	}
	return out
}

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"PCMU", "GSM", "PCMA", "G722", "G729"}, names(r.All()))

	c, ok := r.ByPayloadType(18)
	require.True(t, ok)
	assert.Equal(t, "G729", c.Name)
	assert.Equal(t, 160, c.SamplesPerFrame())
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	params := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}
	require.NoError(t, r.Register(params, 160))
	params.PayloadType = 96
	require.NoError(t, r.Register(params, 160))

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, uint8(96), all[0].PayloadType)
	assert.Equal(t, uint16(1), all[0].Channels)
}

func TestRegisterRejectsMissingClockRate(t *testing.T) {
	err := NewRegistry().Register(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
	}, 160)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestCatalogResolve(t *testing.T) {
	r := DefaultRegistry()

	all, err := NewCatalog(r, nil).Resolve()
	require.NoError(t, err)
	assert.Equal(t, names(r.All()), names(all))

	pref, err := NewCatalog(r, []string{"g729", "OPUS", "pcmu", "G729"}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"G729", "PCMU"}, names(pref))
}

func TestCatalogResolveEmpty(t *testing.T) {
	_, err := NewCatalog(DefaultRegistry(), []string{"OPUS"}).Resolve()
	assert.ErrorIs(t, err, ErrNoCodecsAvailable)

	_, err = NewCatalog(NewRegistry(), nil).Resolve()
	assert.ErrorIs(t, err, ErrNoCodecsAvailable)
}

func TestFrameGeometry(t *testing.T) {
	c, _ := DefaultRegistry().Lookup("PCMU")
	assert.Equal(t, 160, c.SamplesFor(160))
	assert.Equal(t, 80, c.SamplesFor(80))
	assert.Equal(t, 20*time.Millisecond, c.DurationFor(160))

	gsm, _ := DefaultRegistry().Lookup("GSM")
	assert.Equal(t, 320, gsm.SamplesFor(66))
}

func TestImplementation(t *testing.T) {
	r := DefaultRegistry()
	pcmu, _ := r.Lookup("PCMU")

	impl, err := NewImplementation(pcmu, 8000, 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, impl.Transcodes())
	assert.Equal(t, 160, impl.SamplesPerPacket())

	_, err = NewImplementation(pcmu, 16000, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)

	g729, _ := r.Lookup("G729")
	impl, err = NewImplementation(g729, 8000, 0)
	require.NoError(t, err)
	assert.False(t, impl.Transcodes())
	_, err = impl.Encode([]int16{1, 2})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestG711RoundTrip(t *testing.T) {
	assert.Equal(t, byte(0xFF), linearToULaw(0))
	assert.Equal(t, byte(0xD5), linearToALaw(0))

	samples := []int16{-30000, -1000, -100, 0, 100, 1000, 30000}
	for _, enc := range []struct {
		name   string
		encode func([]int16) []byte
		decode func([]byte) []int16
	}{
		{"ulaw", encodeULaw, decodeULaw},
		{"alaw", encodeALaw, decodeALaw},
	} {
		t.Run(enc.name, func(t *testing.T) {
			out := enc.decode(enc.encode(samples))
			require.Len(t, out, len(samples))
			for i, s := range samples {
				tolerance := float64(s) * 0.07
				if tolerance < 0 {
					tolerance = -tolerance
				}
				assert.InDelta(t, float64(s), float64(out[i]), tolerance+16, "sample %d", s)
			}
		})
	}
}
