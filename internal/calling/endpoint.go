package calling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pccr10001/jinglegw/internal/candidate"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/media"
	"github.com/pccr10001/jinglegw/internal/metrics"
	"github.com/pccr10001/jinglegw/internal/signaling"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

const sessionIDLength = 10

type Options struct {
	Catalog      *codec.Catalog
	Resolver     *candidate.Resolver
	Bootstrapper *media.Bootstrapper
	Ports        *media.PortAllocator
	Profiles     ProfileSource
	Channels     ChannelFactory
	Timing       Timing

	// DTMFDuration is the length of an outbound digit in samples.
	DTMFDuration  int
	DTMFQueueSize int

	Recorder Recorder
	Metrics  *metrics.Metrics
}

// Endpoint creates outbound calls and accepts inbound ones for every
// profile. It owns the live call table.
type Endpoint struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewEndpoint(opts Options) *Endpoint {
	opts.Timing = opts.Timing.withDefaults()
	if opts.DTMFDuration <= 0 {
		opts.DTMFDuration = 800
	}
	if opts.Catalog == nil {
		opts.Catalog = codec.NewCatalog(codec.DefaultRegistry(), nil)
	}
	if opts.Resolver == nil {
		opts.Resolver = candidate.NewResolver(nil)
	}
	if opts.Bootstrapper == nil {
		opts.Bootstrapper = media.NewBootstrapper(media.UDPFactory(20*time.Millisecond, 5*time.Second))
	}
	if opts.Ports == nil {
		opts.Ports = media.NewPortAllocator(16384, 32768)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Originate places a call to a destination of the form
// "profile/recipient". Invalid targets and unready profiles are rejected
// before any negotiation starts.
func (e *Endpoint) Originate(dest string) (*Session, error) {
	profileName, callto, ok := strings.Cut(dest, "/")
	if !ok || profileName == "" || callto == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	if e.opts.Profiles == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileName)
	}
	p, ok := e.opts.Profiles.Profile(profileName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileName)
	}
	if !p.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotReady, profileName)
	}
	full, ok := p.Handle.Probe(callto)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, callto)
	}

	ss, err := p.Handle.NewSession(candidate.RandomDigits(sessionIDLength), full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileNotReady, err)
	}
	s, err := e.newCall(p, Outbound, ss, callto)
	if err != nil {
		ss.Destroy()
		return nil, err
	}
	ss.SetPrivate(s)

	if err := ss.Describe(nil, signaling.DescriptionInitiate); err != nil {
		s.log.Warnf("Sending session initiate: %v", err)
	}
	s.log.Infof("Calling %s on session %s", full, ss.ID())
	go s.negotiate(e.ctx)
	return s, nil
}

func (e *Endpoint) newCall(p *Profile, dir Direction, ss signaling.Session, dest string) (*Session, error) {
	port, err := e.opts.Ports.Acquire()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrTransportAllocationFailed, err)
	}

	s := newSession(e, p, dir, ss, dest, port)
	s.flags.IO = true
	if e.opts.Channels != nil {
		s.channel = e.opts.Channels.NewChannel(s)
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	e.opts.Metrics.CallStarted(dir.String())
	if e.opts.Recorder != nil {
		e.opts.Recorder.CallStarted(s.Info())
	}
	return s, nil
}

// release drops a torn-down call from the table and frees its port.
func (e *Endpoint) release(s *Session) {
	e.mu.Lock()
	_, ok := e.sessions[s.id]
	delete(e.sessions, s.id)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.opts.Ports.Release(s.localPort)
	e.opts.Metrics.CallEnded()
}

func (e *Endpoint) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions lists live calls, oldest first.
func (e *Endpoint) Sessions() []*Session {
	e.mu.RLock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// Close kills every live call.
func (e *Endpoint) Close() {
	e.cancel()
	for _, s := range e.Sessions() {
		s.Kill()
	}
	logger.Log.Infof("Call endpoint closed")
}
