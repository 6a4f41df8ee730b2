package calling

import (
	"context"
	"fmt"
	"time"

	"github.com/pccr10001/jinglegw/internal/candidate"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/signaling"
)

const tokenLength = 16

// Timing controls the negotiation loop.
type Timing struct {
	Tick          time.Duration
	OutboundDelay time.Duration
	InboundDelay  time.Duration
	RetryInterval time.Duration
	Timeout       time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.Tick <= 0 {
		t.Tick = 10 * time.Millisecond
	}
	if t.OutboundDelay <= 0 {
		t.OutboundDelay = 5 * time.Second
	}
	if t.InboundDelay <= 0 {
		t.InboundDelay = 20 * time.Second
	}
	if t.RetryInterval <= 0 {
		t.RetryInterval = 10 * time.Second
	}
	if t.Timeout <= 0 {
		t.Timeout = 60 * time.Second
	}
	return t
}

// negotiate runs until both codec and transport are agreed, the call is torn
// down, or the timeout expires.
func (s *Session) negotiate(ctx context.Context) {
	t := s.endpoint.opts.Timing
	m := s.endpoint.opts.Metrics

	started := time.Now()
	next := started.Add(t.OutboundDelay)
	if s.direction == Inbound {
		next = started.Add(t.InboundDelay)
	}

	ticker := time.NewTicker(t.Tick)
	defer ticker.Stop()

	for {
		if s.stopped() {
			s.log.Debugf("Negotiation stopped in state %s", s.State())
			return
		}

		flags := s.Flags()
		if flags.CodecReady && flags.RTPReady {
			break
		}

		now := time.Now()
		elapsed := now.Sub(started)
		if elapsed > t.Timeout {
			m.Negotiated("timeout", elapsed.Seconds())
			s.fail(fmt.Errorf("%w after %s", ErrNegotiationTimeout, t.Timeout))
			return
		}

		if !now.Before(next) {
			next = now.Add(t.RetryInterval)
			if err := s.offer(ctx); err != nil {
				m.Negotiated("failed", elapsed.Seconds())
				s.fail(err)
				return
			}
		}

		select {
		case <-ctx.Done():
			s.Kill()
			return
		case <-s.done:
			return
		case <-ticker.C:
		}
	}

	s.converge(time.Since(started))
}

// offer sends our codec and candidate descriptions for whatever is not yet
// agreed.
func (s *Session) offer(ctx context.Context) error {
	s.fire(evOffer)
	defer s.fire(evAwait)

	s.mu.Lock()
	sig := s.sig
	var payload *signaling.Payload
	if !s.flags.CodecReady {
		if err := s.ensureCodecsLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
		s.selectCodecLocked(0)
		s.described = true
		c := s.localCodecs[0]
		payload = &signaling.Payload{Name: c.Name, ID: c.PayloadType, Rate: c.ClockRate}
	}
	rtpReady := s.flags.RTPReady
	s.mu.Unlock()

	if sig == nil {
		return ErrCallTerminated
	}

	if payload != nil {
		s.log.Debugf("Offering codec %s/%d", payload.Name, payload.ID)
		if err := sig.Describe([]signaling.Payload{*payload}, s.describeKind()); err != nil {
			s.log.Warnf("Sending codec offer: %v", err)
		}
	}

	if rtpReady || s.stopped() {
		return nil
	}

	s.candMu.Lock()
	defer s.candMu.Unlock()
	s.mu.Lock()
	answering := s.remoteIP != ""
	s.mu.Unlock()
	if answering {
		return nil
	}
	cand, err := s.localCandidate(ctx, true)
	if err != nil {
		return err
	}
	if s.stopped() {
		return nil
	}
	s.log.Debugf("Offering candidate %s:%d (%s)", cand.Address, cand.Port, cand.Type)
	if err := sig.SendCandidates([]signaling.Candidate{cand}); err != nil {
		s.log.Warnf("Sending candidate offer: %v", err)
	}
	return nil
}

// localCandidate builds our single media candidate, resolving a stun:
// advertised address through the relay. fresh forces a new credential token.
func (s *Session) localCandidate(ctx context.Context, fresh bool) (signaling.Candidate, error) {
	s.mu.Lock()
	if fresh || s.localUser == "" {
		s.localUser = candidate.RandomToken(tokenLength)
	}
	user, ip, port := s.localUser, s.localIP, s.localPort
	s.mu.Unlock()

	res, err := s.endpoint.opts.Resolver.Resolve(ctx, s.profile.AdvertisedIP(), ip, port)
	if err != nil {
		s.log.Errorf("Candidate lookup failed: %v", err)
		return signaling.Candidate{}, err
	}
	return signaling.Candidate{
		Name:       "rtp",
		Address:    res.Address,
		Port:       res.Port,
		Protocol:   candidate.ProtocolUDP,
		Type:       res.Type,
		Username:   user,
		Password:   user,
		Preference: 1,
	}, nil
}

// converge attaches the codec instances and hands the call to the channel.
func (s *Session) converge(elapsed time.Duration) {
	s.fire(evConverge)

	c, ok := s.Codec()
	if !ok {
		s.fail(codec.ErrNoCodecsAvailable)
		return
	}
	read, err := codec.NewImplementation(c, int(c.ClockRate), codec.DefaultFrameDuration)
	if err != nil {
		s.fail(err)
		return
	}
	write, err := codec.NewImplementation(c, int(c.ClockRate), codec.DefaultFrameDuration)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.flags.Bye {
		s.mu.Unlock()
		return
	}
	s.readCodec, s.writeCodec = read, write
	s.mu.Unlock()

	s.endpoint.opts.Metrics.Negotiated("ready", elapsed.Seconds())
	s.log.Infof("Negotiated %s/%d in %s", c.Name, c.PayloadType, elapsed.Round(time.Millisecond))

	s.fire(evActivate)
	if s.channel == nil {
		return
	}
	s.channel.SetCodecs(read, write)
	if s.direction == Outbound {
		s.channel.Answer()
	} else {
		s.channel.Launch()
	}
}
