package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/pkg/logger"
	"go.uber.org/zap"
)

type State string

const (
	StateNew     State = "new"
	StateInit    State = "init"
	StateRing    State = "ring"
	StateExecute State = "execute"
	StateHangup  State = "hangup"
	StateDone    State = "done"
)

const maxQueuedDigits = 64

// Session is the call a channel drives.
type Session interface {
	Name() string
	Init() error
	Ring() error
	Execute() error
	Answer() error
	Hangup()
	ReadFrame(ctx context.Context) (*calling.Frame, error)
	WriteFrame(f *calling.Frame) error
	SendDTMF(digits string) error
}

// App runs once the call is up. The channel hangs up when it returns.
type App func(ctx context.Context, ch *Channel) error

type Channel struct {
	session Session
	app     App
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	cause  calling.Cause
	digits []byte
	read   *codec.Implementation
	write  *codec.Implementation

	hungup  atomic.Bool
	running atomic.Bool
	done    chan struct{}
}

func New(s Session, app App) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		session: s,
		app:     app,
		log:     logger.Log.With("channel", s.Name()),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateNew,
		done:    make(chan struct{}),
	}
}

func (c *Channel) Name() string { return c.session.Name() }

func (c *Channel) Session() Session { return c.session }

func (c *Channel) HungUp() bool { return c.hungup.Load() }

func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Cause() calling.Cause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.log.Debugf("Channel %s -> %s", prev, s)
}

// Hangup ends the call. Only the first call has any effect.
func (c *Channel) Hangup(cause calling.Cause) {
	if c.hungup.Swap(true) {
		return
	}
	c.mu.Lock()
	c.cause = cause
	c.mu.Unlock()
	c.setState(StateHangup)
	c.cancel()
	c.session.Hangup()
	c.setState(StateDone)
	close(c.done)
}

// Answer is used for outbound calls once the peer has agreed on media.
func (c *Channel) Answer() {
	if err := c.session.Answer(); err != nil {
		c.log.Warnf("Answer: %v", err)
		return
	}
	c.setState(StateExecute)
	c.start()
}

// Launch walks an inbound call through init, ring and execute, answers it
// and starts the application.
func (c *Channel) Launch() {
	steps := []struct {
		state State
		fn    func() error
	}{
		{StateInit, c.session.Init},
		{StateRing, c.session.Ring},
		{StateExecute, c.session.Execute},
	}
	for _, step := range steps {
		if c.HungUp() {
			return
		}
		c.setState(step.state)
		if err := step.fn(); err != nil {
			c.log.Errorf("%s failed: %v", step.state, err)
			c.Hangup(calling.CauseNormalClearing)
			return
		}
	}
	if err := c.session.Answer(); err != nil {
		c.log.Warnf("Answer: %v", err)
		c.Hangup(calling.CauseNormalClearing)
		return
	}
	c.start()
}

func (c *Channel) start() {
	if c.app == nil || c.HungUp() || c.running.Swap(true) {
		return
	}
	go func() {
		err := c.app(c.ctx, c)
		switch {
		case err == nil, errors.Is(err, calling.ErrCallTerminated), errors.Is(err, context.Canceled):
			c.log.Debugf("Application finished")
		default:
			c.log.Warnf("Application failed: %v", err)
		}
		c.Hangup(calling.CauseNormalClearing)
	}()
}

// QueueDTMF stores digits received from the peer until the application
// collects them.
func (c *Channel) QueueDTMF(digits string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := maxQueuedDigits - len(c.digits)
	if room <= 0 {
		c.log.Warnf("DTMF queue full, dropping %q", digits)
		return
	}
	if len(digits) > room {
		digits = digits[:room]
	}
	c.digits = append(c.digits, digits...)
	c.log.Infof("DTMF %s", digits)
}

// Digits returns and clears the queued digits.
func (c *Channel) Digits() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := string(c.digits)
	c.digits = c.digits[:0]
	return d
}

func (c *Channel) SetCodecs(read, write *codec.Implementation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read, c.write = read, write
}

func (c *Channel) Codecs() (read, write *codec.Implementation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read, c.write
}

// Echo plays every received frame back to the caller and repeats received
// digits as telephone events.
func Echo(ctx context.Context, ch *Channel) error {
	s := ch.Session()
	for {
		f, err := s.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if d := ch.Digits(); d != "" {
			if err := s.SendDTMF(d); err != nil {
				ch.log.Warnf("Echo DTMF %q: %v", d, err)
			}
		}
		if err := s.WriteFrame(f); err != nil {
			return err
		}
	}
}

// Apps names the built-in applications a dialplan can select.
var Apps = map[string]App{
	"echo": Echo,
}

// AppFor resolves a dialplan name, defaulting to Echo.
func AppFor(dialplan string) App {
	if app, ok := Apps[strings.ToLower(dialplan)]; ok {
		return app
	}
	return Echo
}

// Factory builds channels for the call endpoint.
type Factory struct{}

func (Factory) NewChannel(s *calling.Session) calling.Channel {
	return New(s, AppFor(s.Profile().Dialplan))
}
