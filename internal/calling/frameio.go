package calling

import (
	"context"
	"errors"
	"time"

	"github.com/pccr10001/jinglegw/internal/media"
)

// Frame is one encoded media frame in the call codec.
type Frame struct {
	Data        []byte
	Samples     int
	Duration    time.Duration
	PayloadType uint8
	Timestamp   uint32
}

// ReadFrame blocks until a media frame arrives or the call is torn down.
// Telephone events are consumed here and queued to the channel as digits.
func (s *Session) ReadFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.flags.Bye {
		s.mu.Unlock()
		return nil, ErrCallTerminated
	}
	tr := s.transport
	c, _ := s.codecLocked()
	if !s.flags.RTPReady || tr == nil {
		s.mu.Unlock()
		return nil, ErrMediaNotReady
	}
	s.flags.Reading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flags.Reading = false
		s.mu.Unlock()
	}()

	for {
		if s.stopped() {
			return nil, ErrCallTerminated
		}
		pkt, err := tr.Read(ctx)
		if err != nil {
			if errors.Is(err, media.ErrTransportClosed) {
				return nil, ErrCallTerminated
			}
			return nil, err
		}
		if pkt == nil || len(pkt.Payload) == 0 {
			continue
		}

		if pkt.PayloadType == media.TelephoneEventPT {
			if digit, ok := s.dtmfIn.detect(pkt.Payload); ok {
				s.log.Debugf("DTMF %c", digit)
				s.endpoint.opts.Metrics.DTMF("in")
				if s.channel != nil {
					s.channel.QueueDTMF(string(digit))
				}
			}
			continue
		}

		s.timestampRecv = pkt.Timestamp
		return &Frame{
			Data:        pkt.Payload,
			Samples:     c.SamplesFor(len(pkt.Payload)),
			Duration:    c.DurationFor(len(pkt.Payload)),
			PayloadType: pkt.PayloadType,
			Timestamp:   pkt.Timestamp,
		}, nil
	}
}

// WriteFrame sends one encoded frame, first emitting any pending DTMF
// event packets. Frames written before the transport is ready are dropped.
func (s *Session) WriteFrame(f *Frame) error {
	s.mu.Lock()
	if !s.flags.RTPReady {
		s.mu.Unlock()
		return nil
	}
	if s.flags.Bye {
		s.mu.Unlock()
		s.requestHangup(CauseNormalClearing, nil)
		return ErrCallTerminated
	}
	tr := s.transport
	c, _ := s.codecLocked()
	s.flags.Writing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flags.Writing = false
		s.mu.Unlock()
	}()

	if tr == nil {
		return ErrCallTerminated
	}

	samples := f.Samples
	if samples <= 0 {
		samples = c.SamplesFor(len(f.Data))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	digit, err := s.dtmfOut.step(tr, s.timestampSend, samples)
	if digit != 0 {
		s.log.Debugf("Sending DTMF %c", digit)
		s.endpoint.opts.Metrics.DTMF("out")
	}
	if err != nil {
		s.log.Warnf("Writing DTMF event: %v", err)
	}
	if err := tr.Write(f.Data, uint32(samples)); err != nil {
		if errors.Is(err, media.ErrTransportClosed) {
			return ErrCallTerminated
		}
		return err
	}
	s.timestampSend += uint32(samples)
	return nil
}
