package signaling

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected  = errors.New("signaling connection not established")
	ErrSessionClosed = errors.New("signaling session closed")
	ErrLoginRejected = errors.New("login rejected")
)

type Signal int

const (
	SignalNone Signal = iota
	SignalMessage
	SignalInitiate
	SignalCandidates
	SignalError
	SignalTerminate
)

func (s Signal) String() string {
	switch s {
	case SignalMessage:
		return "message"
	case SignalInitiate:
		return "initiate"
	case SignalCandidates:
		return "candidates"
	case SignalError:
		return "error"
	case SignalTerminate:
		return "terminate"
	default:
		return "none"
	}
}

type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "ok"
	}
	return "fail"
}

// DescriptionKind distinguishes the caller's offer from the callee's answer.
type DescriptionKind string

const (
	DescriptionInitiate DescriptionKind = "initiate"
	DescriptionAccept   DescriptionKind = "accept"
)

// Payload is one advertised codec.
type Payload struct {
	Name string `json:"name"`
	ID   uint8  `json:"id"`
	Rate uint32 `json:"rate,omitempty"`
}

// Candidate is one advertised media endpoint.
type Candidate struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Port       int     `json:"port"`
	Protocol   string  `json:"protocol"`
	Type       string  `json:"type"`
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	Preference float64 `json:"preference"`
}

// Handle is the per-account connection shared by every call of a profile.
type Handle interface {
	Login() string
	Ready() bool
	// Probe resolves the recipient to the full id currently present.
	Probe(jid string) (string, bool)
	NewSession(id, to string) (Session, error)
}

// Session is the per-call sub-session on a Handle.
type Session interface {
	ID() string
	Peer() string
	Describe(payloads []Payload, kind DescriptionKind) error
	SendCandidates(candidates []Candidate) error
	Payloads() []Payload
	Candidates() []Candidate
	Terminate() error
	Destroy()
	SetPrivate(v any)
	Private() any
}

// Handler receives inbound events, one at a time per Handle.
type Handler interface {
	HandleSignal(h Handle, s Session, sig Signal, msg string) Status
}

// Envelope is the JSON frame exchanged with the presence server.
type Envelope struct {
	Type       string      `json:"type"`
	ID         string      `json:"id,omitempty"`
	From       string      `json:"from,omitempty"`
	To         string      `json:"to,omitempty"`
	Session    string      `json:"session,omitempty"`
	Action     string      `json:"action,omitempty"`
	Payloads   []Payload   `json:"payloads,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Body       string      `json:"body,omitempty"`
	Status     string      `json:"status,omitempty"`
	Password   string      `json:"password,omitempty"`
	Roster     []string    `json:"roster,omitempty"`
}

const (
	TypeLogin    = "login"
	TypePresence = "presence"
	TypeRoster   = "roster"
	TypeSession  = "session"
	TypeMessage  = "message"
	TypeAck      = "ack"
	TypeError    = "error"

	ActionCandidates = "candidates"
	ActionTerminate  = "terminate"
	ActionReject     = "reject"

	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
)

func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, errors.New("missing envelope type")
	}
	return &env, nil
}

// signalFor maps a session action onto the signal delivered to the handler.
func signalFor(env *Envelope) Signal {
	if env.Type == TypeMessage {
		return SignalMessage
	}
	if env.Type == TypeError {
		return SignalError
	}
	switch env.Action {
	case string(DescriptionInitiate), string(DescriptionAccept):
		return SignalInitiate
	case ActionCandidates:
		return SignalCandidates
	case ActionTerminate:
		return SignalTerminate
	case ActionReject:
		return SignalError
	}
	return SignalNone
}
