package signaling

import (
	"sync"
	"sync/atomic"
)

type session struct {
	client *Client
	id     string
	peer   string

	mu         sync.RWMutex
	payloads   []Payload
	candidates []Candidate
	private    any
	closed     atomic.Bool
}

func newSession(c *Client, id, peer string) *session {
	return &session{client: c, id: id, peer: peer}
}

func (s *session) ID() string   { return s.id }
func (s *session) Peer() string { return s.peer }

func (s *session) update(env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(env.Payloads) > 0 {
		s.payloads = append([]Payload(nil), env.Payloads...)
	}
	if len(env.Candidates) > 0 {
		s.candidates = append([]Candidate(nil), env.Candidates...)
	}
}

func (s *session) Payloads() []Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Payload(nil), s.payloads...)
}

func (s *session) Candidates() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Candidate(nil), s.candidates...)
}

func (s *session) Describe(payloads []Payload, kind DescriptionKind) error {
	return s.sendAction(string(kind), func(env *Envelope) { env.Payloads = payloads })
}

func (s *session) SendCandidates(candidates []Candidate) error {
	return s.sendAction(ActionCandidates, func(env *Envelope) { env.Candidates = candidates })
}

func (s *session) Terminate() error {
	return s.sendAction(ActionTerminate, nil)
}

func (s *session) sendAction(action string, fill func(*Envelope)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	env := &Envelope{Type: TypeSession, To: s.peer, Session: s.id, Action: action}
	if fill != nil {
		fill(env)
	}
	return s.client.send(env)
}

// Destroy detaches the session from its connection. Further sends fail.
func (s *session) Destroy() {
	if s.closed.CompareAndSwap(false, true) {
		s.client.forget(s.id)
	}
}

func (s *session) SetPrivate(v any) {
	s.mu.Lock()
	s.private = v
	s.mu.Unlock()
}

func (s *session) Private() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.private
}
