package calling

import (
	"time"

	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/signaling"
)

// Profile is a signaling account and the network identity its calls use.
type Profile struct {
	Name     string
	Login    string
	Message  string
	Dialplan string
	IP       string
	ExtIP    string
	LANAddr  string
	Exten    string

	Handle signaling.Handle
}

// AdvertisedIP is the address offered in local candidates. It may carry a
// "stun:" relay prefix.
func (p *Profile) AdvertisedIP() string {
	if p.ExtIP != "" {
		return p.ExtIP
	}
	return p.IP
}

func (p *Profile) Ready() bool {
	return p.Handle != nil && p.Handle.Ready()
}

type ProfileSource interface {
	Profile(name string) (*Profile, bool)
}

// Channel is the call-control side of a session.
type Channel interface {
	Name() string
	HungUp() bool
	// Hangup moves the channel to its hangup state; the channel then calls
	// Session.Hangup exactly once.
	Hangup(cause Cause)
	// Answer marks an outbound call answered and starts its media path.
	Answer()
	// Launch hands an inbound call to the channel execution path.
	Launch()
	QueueDTMF(digits string)
	SetCodecs(read, write *codec.Implementation)
}

type ChannelFactory interface {
	NewChannel(s *Session) Channel
}

// CallInfo is a point-in-time view of a session for records and the API.
type CallInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Profile     string    `json:"profile"`
	Direction   string    `json:"direction"`
	Remote      string    `json:"remote"`
	Codec       string    `json:"codec"`
	PayloadType int       `json:"payload_type"`
	State       string    `json:"state"`
	Cause       string    `json:"cause,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	AnsweredAt  time.Time `json:"answered_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

// Recorder observes call lifecycle milestones.
type Recorder interface {
	CallStarted(info CallInfo)
	CallAnswered(info CallInfo)
	CallEnded(info CallInfo)
}
