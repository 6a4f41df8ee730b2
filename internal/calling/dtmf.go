package calling

import (
	"time"

	"github.com/pccr10001/jinglegw/internal/media"
)

const (
	dtmfDebounceWindow = 2 * time.Second
	dtmfDuplicateLimit = 3
	dtmfRedundancy     = 3
	dtmfStartVolume    = 7
	dtmfEndBit         = 0x80
)

// DigitToEvent maps a DTMF character to its RFC 2833 event code.
func DigitToEvent(d byte) (byte, bool) {
	switch {
	case d >= '0' && d <= '9':
		return d - '0', true
	case d == '*':
		return 10, true
	case d == '#':
		return 11, true
	case d >= 'A' && d <= 'D':
		return 12 + d - 'A', true
	case d >= 'a' && d <= 'd':
		return 12 + d - 'a', true
	}
	return 0, false
}

func EventToDigit(e byte) (byte, bool) {
	switch {
	case e <= 9:
		return '0' + e, true
	case e == 10:
		return '*', true
	case e == 11:
		return '#', true
	case e <= 15:
		return 'A' + e - 12, true
	}
	return 0, false
}

type dtmfDigit struct {
	digit    byte
	duration int
}

type payloadWriter interface {
	WritePayload(payload []byte, payloadType uint8, timestamp uint32, marker bool) error
}

// dtmfGenerator encodes queued digits as telephone-event packets alongside
// outbound media. Only one digit is in flight at a time.
type dtmfGenerator struct {
	queue chan dtmfDigit

	packet   [4]byte
	duration int
	sofar    int
	eventTS  uint32
}

func newDTMFGenerator(size int) *dtmfGenerator {
	if size <= 0 {
		size = 64
	}
	return &dtmfGenerator{queue: make(chan dtmfDigit, size)}
}

func (g *dtmfGenerator) enqueue(d dtmfDigit) error {
	select {
	case g.queue <- d:
		return nil
	default:
		return ErrDTMFQueueFull
	}
}

func (g *dtmfGenerator) active() bool {
	return g.duration > 0
}

// step runs before a media frame of samples is written at stream position
// ts. It returns the digit started during this step, if any.
func (g *dtmfGenerator) step(w payloadWriter, ts uint32, samples int) (started byte, err error) {
	if g.duration > 0 {
		g.sofar += samples
		loops := 1
		duration := g.sofar
		if g.sofar >= g.duration {
			duration = g.duration
			g.packet[1] |= dtmfEndBit
			g.duration = 0
			loops = dtmfRedundancy
		}
		g.packet[2] = byte(duration >> 8)
		g.packet[3] = byte(duration)
		for i := 0; i < loops; i++ {
			if err := w.WritePayload(g.packet[:], media.TelephoneEventPT, g.eventTS, false); err != nil {
				return 0, err
			}
		}
	}

	if g.duration > 0 {
		return 0, nil
	}
	select {
	case d := <-g.queue:
		code, _ := DigitToEvent(d.digit)
		g.packet = [4]byte{code, dtmfStartVolume, 0, 0}
		g.sofar = 0
		g.duration = d.duration
		g.eventTS = ts
		for i := 0; i < dtmfRedundancy; i++ {
			if err := w.WritePayload(g.packet[:], media.TelephoneEventPT, g.eventTS, i == 0); err != nil {
				return d.digit, err
			}
		}
		return d.digit, nil
	default:
		return 0, nil
	}
}

// dtmfDetector debounces inbound telephone-event packets.
type dtmfDetector struct {
	last     byte
	count    int
	lastTime time.Time
	now      func() time.Time
}

func newDTMFDetector() *dtmfDetector {
	return &dtmfDetector{now: time.Now}
}

// detect returns a digit when the packet completes a new key press.
func (d *dtmfDetector) detect(payload []byte) (byte, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	key, ok := EventToDigit(payload[0])
	if !ok {
		return 0, false
	}
	end := payload[1]&dtmfEndBit != 0
	duration := int(payload[2])<<8 | int(payload[3])

	now := d.now()
	if now.Sub(d.lastTime) > dtmfDebounceWindow {
		d.last = 0
		d.count = 0
	}
	if duration == 0 || !end {
		return 0, false
	}

	var fresh bool
	if key != d.last {
		d.lastTime = now
		fresh = true
	}
	d.count++
	if d.count >= dtmfDuplicateLimit {
		d.last = 0
		d.count = 0
	} else {
		d.last = key
	}
	return key, fresh
}
