package calling

import (
	"context"
	"strings"

	"github.com/pccr10001/jinglegw/internal/candidate"
	"github.com/pccr10001/jinglegw/internal/media"
	"github.com/pccr10001/jinglegw/internal/signaling"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

// dtmfRelayPrefix marks a text message carrying DTMF digits.
const dtmfRelayPrefix = "+"

type profileHandler struct {
	endpoint *Endpoint
	profile  *Profile
}

func (h *profileHandler) HandleSignal(_ signaling.Handle, ss signaling.Session, sig signaling.Signal, msg string) signaling.Status {
	return h.endpoint.HandleSignal(h.profile, ss, sig, msg)
}

// HandlerFor returns the inbound event handler for one profile connection.
func (e *Endpoint) HandlerFor(p *Profile) signaling.Handler {
	return &profileHandler{endpoint: e, profile: p}
}

// HandleSignal applies one inbound signaling event to the call bound to ss.
// A call is created for an initiate on an unknown sub-session.
func (e *Endpoint) HandleSignal(p *Profile, ss signaling.Session, sig signaling.Signal, msg string) signaling.Status {
	status := e.handleSignal(p, ss, sig, msg)
	e.opts.Metrics.Signal(sig.String(), status.String())
	return status
}

func (e *Endpoint) handleSignal(p *Profile, ss signaling.Session, sig signaling.Signal, msg string) signaling.Status {
	s, _ := ss.Private().(*Session)
	if s == nil {
		if sig != signaling.SignalInitiate {
			logger.Log.Debugf("Session %s already dead, dropping %s", ss.ID(), sig)
			return signaling.StatusFailure
		}
		var err error
		if s, err = e.accept(p, ss); err != nil {
			logger.Log.Errorf("Profile %s: rejecting call from %s: %v", p.Name, ss.Peer(), err)
			return signaling.StatusFailure
		}
	}

	if s.channel != nil && s.channel.HungUp() {
		s.log.Debugf("Channel already hung up, dropping %s", sig)
		return signaling.StatusFailure
	}
	select {
	case <-s.done:
		s.log.Debugf("Call already closed, dropping %s", sig)
		return signaling.StatusFailure
	default:
	}

	var err error
	switch sig {
	case signaling.SignalMessage:
		s.onMessage(msg)
	case signaling.SignalInitiate:
		err = s.onInitiate(ss.Payloads())
	case signaling.SignalCandidates:
		err = s.onCandidates(e.ctx, ss.Candidates())
	case signaling.SignalError, signaling.SignalTerminate:
		s.onTerminate(sig)
	}
	if err != nil {
		s.fail(err)
		return signaling.StatusFailure
	}
	return signaling.StatusSuccess
}

// accept creates the call for a peer-initiated sub-session and starts its
// negotiation loop.
func (e *Endpoint) accept(p *Profile, ss signaling.Session) (*Session, error) {
	s, err := e.newCall(p, Inbound, ss, ss.Peer())
	if err != nil {
		return nil, err
	}
	ss.SetPrivate(s)
	s.log.Infof("Incoming call from %s on session %s", ss.Peer(), ss.ID())
	go s.negotiate(e.ctx)
	return s, nil
}

func (s *Session) onMessage(msg string) {
	if !strings.HasPrefix(msg, dtmfRelayPrefix) {
		s.log.Debugf("Message: %s", msg)
		return
	}
	digits := msg[len(dtmfRelayPrefix):]
	if digits == "" || s.channel == nil {
		return
	}
	s.log.Debugf("DTMF relay %q", digits)
	s.channel.QueueDTMF(digits)
	for range digits {
		s.endpoint.opts.Metrics.DTMF("in")
	}
}

// onInitiate picks the first advertised payload that matches a local codec,
// scanning local codecs in preference order for each advertised entry.
func (s *Session) onInitiate(advertised []signaling.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flags.CodecReady {
		return nil
	}
	if err := s.ensureCodecsLocked(); err != nil {
		return err
	}
	for _, adv := range advertised {
		for i, local := range s.localCodecs {
			if adv.ID == local.PayloadType {
				s.selectCodecLocked(i)
				s.log.Infof("Peer payload %s/%d matched codec %s", adv.Name, adv.ID, local.Name)
				return nil
			}
		}
	}
	if len(advertised) > 0 {
		s.log.Debugf("No common codec among %d advertised payloads", len(advertised))
	}
	return nil
}

// onCandidates binds the first acceptable remote candidate, answers with our
// own and brings up the transport.
func (s *Session) onCandidates(ctx context.Context, cands []signaling.Candidate) error {
	s.mu.Lock()
	if s.remoteIP != "" {
		s.mu.Unlock()
		return nil
	}
	var chosen *signaling.Candidate
	for i := range cands {
		c := &cands[i]
		if candidate.Acceptable(c.Protocol, c.Address, s.profile.LANAddr) {
			chosen = c
			break
		}
		s.log.Debugf("Skipping candidate %s:%d/%s", c.Address, c.Port, c.Protocol)
	}
	if chosen == nil {
		s.mu.Unlock()
		return nil
	}
	s.remoteIP = chosen.Address
	s.remotePort = chosen.Port
	s.remoteUser = chosen.Username

	if !s.flags.CodecReady {
		if err := s.ensureCodecsLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
		s.selectCodecLocked(0)
	}
	describe := !s.described
	s.described = true
	c, _ := s.codecLocked()
	sig := s.sig
	s.mu.Unlock()

	s.log.Infof("Accepted candidate %s:%d", chosen.Address, chosen.Port)
	if sig == nil {
		return ErrCallTerminated
	}

	// The transport is activated with the token we answer with, whatever a
	// concurrent offer sent before.
	s.candMu.Lock()
	local, err := s.localCandidate(ctx, true)
	if err == nil {
		if err := sig.SendCandidates([]signaling.Candidate{local}); err != nil {
			s.log.Warnf("Sending candidate answer: %v", err)
		}
	}
	s.candMu.Unlock()
	if err != nil {
		return err
	}
	if describe {
		payload := signaling.Payload{Name: c.Name, ID: c.PayloadType, Rate: c.ClockRate}
		if err := sig.Describe([]signaling.Payload{payload}, s.describeKind()); err != nil {
			s.log.Warnf("Sending codec answer: %v", err)
		}
	}

	s.mu.Lock()
	params := media.Params{
		LocalIP:     s.localIP,
		LocalPort:   s.localPort,
		RemoteIP:    s.remoteIP,
		RemotePort:  s.remotePort,
		PayloadType: c.PayloadType,
		LocalUser:   local.Username,
		RemoteUser:  s.remoteUser,
	}
	s.mu.Unlock()

	tr, err := s.endpoint.opts.Bootstrapper.Bootstrap(params)
	if err != nil {
		s.log.Errorf("Media setup failed: %v", err)
		return err
	}

	s.mu.Lock()
	if s.flags.Bye || s.transport != nil {
		s.mu.Unlock()
		_ = tr.Close()
		return nil
	}
	s.transport = tr
	s.flags.RTPReady = true
	s.mu.Unlock()
	return nil
}

// onTerminate tears the call down. A peer-initiated call that never left
// negotiation is destroyed without going through the channel.
func (s *Session) onTerminate(sig signaling.Signal) {
	s.log.Infof("Peer sent %s", sig)
	s.markBye(CauseNormalClearing, nil)
	if s.direction == Inbound && s.State().Initial() {
		s.Hangup()
		return
	}
	s.requestHangup(CauseNormalClearing, nil)
}
