package calling

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/media"
	"github.com/pccr10001/jinglegw/internal/signaling"
	"github.com/pccr10001/jinglegw/pkg/logger"
	"go.uber.org/zap"
)

type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Flags are the orthogonal capability bits of a call. CodecReady and
// RTPReady are set once and never cleared.
type Flags struct {
	IO         bool `json:"io"`
	Reading    bool `json:"reading"`
	Writing    bool `json:"writing"`
	Bye        bool `json:"bye"`
	Voice      bool `json:"voice"`
	CodecReady bool `json:"codec_ready"`
	RTPReady   bool `json:"rtp_ready"`
	Answered   bool `json:"answered"`
}

// Session is one call. The negotiation loop, the signaling dispatcher and
// the media path all share it; mu guards flags, codec choice, endpoints
// and the transport.
type Session struct {
	id        string
	name      string
	dest      string
	profile   *Profile
	direction Direction
	endpoint  *Endpoint
	log       *zap.SugaredLogger
	sm        *fsm.FSM
	channel   Channel

	// candMu serializes resolving and sending our local candidate. A STUN
	// binding holds the media port for its duration.
	candMu sync.Mutex

	mu          sync.Mutex
	flags       Flags
	localCodecs []codec.Codec
	codecIndex  int
	described   bool
	localIP     string
	localPort   int
	localUser   string
	remoteIP    string
	remotePort  int
	remoteUser  string
	transport   media.Transport
	sig         signaling.Session
	readCodec   *codec.Implementation
	writeCodec  *codec.Implementation
	cause       Cause
	err         error
	createdAt   time.Time
	answeredAt  time.Time
	endedAt     time.Time

	// writeMu serializes the write path and owns the outbound clocks.
	writeMu       sync.Mutex
	dtmfOut       *dtmfGenerator
	timestampSend uint32

	// Read-path state, owned by the single media reader.
	dtmfIn        *dtmfDetector
	timestampRecv uint32

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(e *Endpoint, p *Profile, dir Direction, ss signaling.Session, dest string, localPort int) *Session {
	s := &Session{
		id:         uuid.NewString(),
		name:       fmt.Sprintf("jingle/%s-%04x", dest, rand.Intn(0x10000)),
		dest:       dest,
		profile:    p,
		direction:  dir,
		endpoint:   e,
		codecIndex: -1,
		localIP:    p.IP,
		localPort:  localPort,
		sig:        ss,
		createdAt:  time.Now(),
		dtmfOut:    newDTMFGenerator(e.opts.DTMFQueueSize),
		dtmfIn:     newDTMFDetector(),
		done:       make(chan struct{}),
	}
	s.log = logger.Log.With("call", s.name, "profile", p.Name)
	s.sm = newStateMachine(func(from, to State) {
		s.log.Debugf("State %s -> %s", from, to)
	})
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string { return s.name }

func (s *Session) Destination() string { return s.dest }

func (s *Session) Profile() *Profile { return s.profile }

func (s *Session) Direction() Direction { return s.direction }

func (s *Session) Channel() Channel { return s.channel }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State { return State(s.sm.Current()) }

// SignalingID is the session id shared with the peer; empty after hangup.
func (s *Session) SignalingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sig == nil {
		return ""
	}
	return s.sig.ID()
}

func (s *Session) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Codec returns the agreed codec, if any.
func (s *Session) Codec() (codec.Codec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codecLocked()
}

func (s *Session) codecLocked() (codec.Codec, bool) {
	if s.codecIndex < 0 || s.codecIndex >= len(s.localCodecs) {
		return codec.Codec{}, false
	}
	return s.localCodecs[s.codecIndex], true
}

func (s *Session) Remote() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIP, s.remotePort
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Info() CallInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := CallInfo{
		ID:          s.id,
		Name:        s.name,
		Profile:     s.profile.Name,
		Direction:   s.direction.String(),
		Remote:      s.dest,
		PayloadType: -1,
		State:       s.sm.Current(),
		Cause:       string(s.cause),
		StartedAt:   s.createdAt,
		AnsweredAt:  s.answeredAt,
		EndedAt:     s.endedAt,
	}
	if c, ok := s.codecLocked(); ok {
		info.Codec = c.Name
		info.PayloadType = int(c.PayloadType)
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

func (s *Session) fire(event string) {
	if err := s.sm.Event(context.Background(), event); err != nil {
		s.log.Debugf("State event %s ignored in %s: %v", event, s.sm.Current(), err)
	}
}

// selectCodecLocked fixes the call codec. Callers hold mu.
func (s *Session) selectCodecLocked(i int) {
	s.codecIndex = i
	s.flags.CodecReady = true
}

func (s *Session) ensureCodecsLocked() error {
	if len(s.localCodecs) > 0 {
		return nil
	}
	codecs, err := s.endpoint.opts.Catalog.Resolve()
	if err != nil {
		return err
	}
	s.localCodecs = codecs
	return nil
}

func (s *Session) describeKind() signaling.DescriptionKind {
	if s.direction == Outbound {
		return signaling.DescriptionInitiate
	}
	return signaling.DescriptionAccept
}

// stopped reports whether negotiation or media must stop.
func (s *Session) stopped() bool {
	s.mu.Lock()
	bye, io := s.flags.Bye, s.flags.IO
	s.mu.Unlock()
	if bye || !io {
		return true
	}
	return s.channel != nil && s.channel.HungUp()
}

// markBye flags the call for teardown without releasing anything.
func (s *Session) markBye(cause Cause, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Bye = true
	s.flags.IO = false
	s.flags.Voice = false
	if s.cause == "" {
		s.cause = cause
	}
	if s.err == nil && err != nil {
		s.err = err
	}
}

// fail records a terminal error and hangs the call up.
func (s *Session) fail(err error) {
	s.log.Errorf("Call failed: %v", err)
	s.requestHangup(causeFor(err), err)
}

func (s *Session) requestHangup(cause Cause, err error) {
	s.markBye(cause, err)
	if s.channel != nil {
		s.channel.Hangup(cause)
		return
	}
	s.Hangup()
}

// Init is called when the channel enters its init state.
func (s *Session) Init() error {
	s.log.Infof("CHANNEL INIT")
	return nil
}

func (s *Session) Ring() error {
	s.log.Infof("CHANNEL RING")
	return nil
}

func (s *Session) Execute() error {
	s.log.Infof("CHANNEL EXECUTE")
	return nil
}

// Answer records the call as answered.
func (s *Session) Answer() error {
	s.mu.Lock()
	if s.flags.Bye {
		s.mu.Unlock()
		return ErrCallTerminated
	}
	already := s.flags.Answered
	s.flags.Answered = true
	s.flags.Voice = true
	if !already {
		s.answeredAt = time.Now()
	}
	s.mu.Unlock()

	if !already {
		s.log.Infof("CHANNEL ANSWER")
		if r := s.endpoint.opts.Recorder; r != nil {
			r.CallAnswered(s.Info())
		}
	}
	return nil
}

// Kill aborts the call from outside the media path.
func (s *Session) Kill() {
	s.log.Infof("CHANNEL KILL")
	s.requestHangup(CauseKilled, nil)
}

// Hangup releases everything the call owns. It runs once; later calls are
// no-ops.
func (s *Session) Hangup() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.flags.Bye = true
		s.flags.IO = false
		s.flags.Voice = false
		if s.cause == "" {
			s.cause = CauseNormalClearing
		}
		tr := s.transport
		s.transport = nil
		ss := s.sig
		s.sig = nil
		s.readCodec, s.writeCodec = nil, nil
		s.endedAt = time.Now()
		s.mu.Unlock()

		s.fire(evTerminate)
		close(s.done)

		if ss != nil {
			_ = ss.Terminate()
			ss.Destroy()
		}
		if tr != nil {
			if err := tr.Close(); err != nil {
				s.log.Warnf("Closing transport: %v", err)
			}
		}
		s.endpoint.release(s)
		s.fire(evClose)
		s.log.Infof("CHANNEL HANGUP cause=%s", s.cause)

		if r := s.endpoint.opts.Recorder; r != nil {
			r.CallEnded(s.Info())
		}
	})
}

// SendDTMF queues digits for in-band telephone-event transmission.
func (s *Session) SendDTMF(digits string) error {
	for i := 0; i < len(digits); i++ {
		if _, ok := DigitToEvent(digits[i]); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidDigit, digits[i])
		}
	}
	for i := 0; i < len(digits); i++ {
		d := dtmfDigit{digit: digits[i], duration: s.endpoint.opts.DTMFDuration}
		if err := s.dtmfOut.enqueue(d); err != nil {
			return err
		}
	}
	return nil
}
