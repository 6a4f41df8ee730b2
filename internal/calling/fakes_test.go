package calling

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pccr10001/jinglegw/internal/candidate"
	"github.com/pccr10001/jinglegw/internal/codec"
	"github.com/pccr10001/jinglegw/internal/media"
	"github.com/pccr10001/jinglegw/internal/signaling"
)

type fakeSig struct {
	id         string
	peer       string
	payloads   []signaling.Payload
	candidates []signaling.Candidate

	mu         sync.Mutex
	private    any
	described  [][]signaling.Payload
	kinds      []signaling.DescriptionKind
	sent       [][]signaling.Candidate
	terminated bool
	destroyed  bool
}

func (f *fakeSig) ID() string { return f.id }
func (f *fakeSig) Peer() string { return f.peer }

func (f *fakeSig) Describe(payloads []signaling.Payload, kind signaling.DescriptionKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.described = append(f.described, payloads)
	f.kinds = append(f.kinds, kind)
	return nil
}

func (f *fakeSig) SendCandidates(c []signaling.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return nil
}

func (f *fakeSig) Payloads() []signaling.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads
}

func (f *fakeSig) Candidates() []signaling.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidates
}

func (f *fakeSig) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	return nil
}

func (f *fakeSig) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *fakeSig) SetPrivate(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.private = v
}

func (f *fakeSig) Private() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.private
}

func (f *fakeSig) offer(payloads ...signaling.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = payloads
}

func (f *fakeSig) propose(cands ...signaling.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = cands
}

func (f *fakeSig) descriptions() ([][]signaling.Payload, []signaling.DescriptionKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]signaling.Payload(nil), f.described...), append([]signaling.DescriptionKind(nil), f.kinds...)
}

func (f *fakeSig) sentCandidates() [][]signaling.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]signaling.Candidate(nil), f.sent...)
}

func (f *fakeSig) closed() (terminated, destroyed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated, f.destroyed
}

type fakeHandle struct {
	ready atomic.Bool
	known map[string]string

	mu       sync.Mutex
	sessions []*fakeSig
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{known: map[string]string{"bob@example.org": "bob@example.org/desk"}}
	h.ready.Store(true)
	return h
}

func (h *fakeHandle) Login() string { return "gw@example.org" }
func (h *fakeHandle) Ready() bool { return h.ready.Load() }

func (h *fakeHandle) Probe(jid string) (string, bool) {
	full, ok := h.known[jid]
	return full, ok
}

func (h *fakeHandle) NewSession(id, to string) (signaling.Session, error) {
	s := &fakeSig{id: id, peer: to}
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	return s, nil
}

func (h *fakeHandle) last() *fakeSig {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		return nil
	}
	return h.sessions[len(h.sessions)-1]
}

type fakeChannel struct {
	s *Session

	hungup   atomic.Bool
	answered atomic.Bool
	launched atomic.Bool

	mu     sync.Mutex
	cause  Cause
	digits strings.Builder
	read   *codec.Implementation
	write  *codec.Implementation
}

func (c *fakeChannel) Name() string { return c.s.Name() }
func (c *fakeChannel) HungUp() bool { return c.hungup.Load() }

func (c *fakeChannel) Hangup(cause Cause) {
	if c.hungup.Swap(true) {
		return
	}
	c.mu.Lock()
	c.cause = cause
	c.mu.Unlock()
	c.s.Hangup()
}

func (c *fakeChannel) Answer() {
	c.answered.Store(true)
	_ = c.s.Answer()
}

func (c *fakeChannel) Launch() { c.launched.Store(true) }

func (c *fakeChannel) QueueDTMF(digits string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digits.WriteString(digits)
}

func (c *fakeChannel) SetCodecs(read, write *codec.Implementation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read, c.write = read, write
}

func (c *fakeChannel) hangupCause() Cause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *fakeChannel) queued() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.digits.String()
}

func (c *fakeChannel) codecs() (*codec.Implementation, *codec.Implementation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read, c.write
}

type fakeChannels struct {
	mu  sync.Mutex
	all []*fakeChannel
}

func (f *fakeChannels) NewChannel(s *Session) Channel {
	c := &fakeChannel{s: s}
	f.mu.Lock()
	f.all = append(f.all, c)
	f.mu.Unlock()
	return c
}

func channelOf(s *Session) *fakeChannel {
	return s.Channel().(*fakeChannel)
}

type written struct {
	payload     []byte
	payloadType uint8
	timestamp   uint32
	marker      bool
	media       bool
}

type fakeTransport struct {
	in     chan *media.Packet
	local  *net.UDPAddr
	remote *net.UDPAddr

	closed atomic.Bool

	mu         sync.Mutex
	writes     []written
	localUser  string
	remoteUser string
}

func (t *fakeTransport) Read(ctx context.Context) (*media.Packet, error) {
	if t.closed.Load() {
		return nil, media.ErrTransportClosed
	}
	select {
	case p := <-t.in:
		return p, nil
	case <-time.After(2 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(payload []byte, samples uint32) error {
	if t.closed.Load() {
		return media.ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, written{payload: payload, media: true})
	return nil
}

func (t *fakeTransport) WritePayload(payload []byte, pt uint8, ts uint32, marker bool) error {
	if t.closed.Load() {
		return media.ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, written{payload: append([]byte(nil), payload...), payloadType: pt, timestamp: ts, marker: marker})
	return nil
}

func (t *fakeTransport) ActivateICE(localUser, remoteUser string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localUser, t.remoteUser = localUser, remoteUser
	return nil
}

func (t *fakeTransport) LocalAddr() *net.UDPAddr { return t.local }

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *fakeTransport) sent() []written {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]written(nil), t.writes...)
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) build(local, remote *net.UDPAddr, _ uint8) (media.Transport, error) {
	t := &fakeTransport{in: make(chan *media.Packet, 16), local: local, remote: remote}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t, nil
}

func (f *fakeFactory) built() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTransport(nil), f.transports...)
}

type fakeBinder struct {
	mapped *net.UDPAddr
	err    error
	delay  time.Duration

	active   atomic.Int32
	overlaps atomic.Int32
}

// Bind fails like a second socket on an already bound port when calls
// overlap.
func (b *fakeBinder) Bind(context.Context, *net.UDPAddr, string) (*net.UDPAddr, error) {
	if b.active.Add(1) > 1 {
		b.active.Add(-1)
		b.overlaps.Add(1)
		return nil, errors.New("bind: address already in use")
	}
	defer b.active.Add(-1)
	time.Sleep(b.delay)
	return b.mapped, b.err
}

type fakeProfiles map[string]*Profile

func (f fakeProfiles) Profile(name string) (*Profile, bool) {
	p, ok := f[name]
	return p, ok
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []CallInfo
	answered []CallInfo
	ended    []CallInfo
}

func (r *fakeRecorder) CallStarted(info CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, info)
}

func (r *fakeRecorder) CallAnswered(info CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, info)
}

func (r *fakeRecorder) CallEnded(info CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, info)
}

func (r *fakeRecorder) endedCalls() []CallInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallInfo(nil), r.ended...)
}

func (r *fakeRecorder) answeredCalls() []CallInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallInfo(nil), r.answered...)
}

type harness struct {
	endpoint *Endpoint
	profile  *Profile
	handle   *fakeHandle
	factory  *fakeFactory
	binder   *fakeBinder
	recorder *fakeRecorder
	ports    *media.PortAllocator
}

func newHarness(t *testing.T, tweak ...func(*Options, *Profile)) *harness {
	t.Helper()
	h := &harness{
		handle:   newFakeHandle(),
		factory:  &fakeFactory{},
		binder:   &fakeBinder{mapped: &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 40000}},
		recorder: &fakeRecorder{},
		ports:    media.NewPortAllocator(20000, 20100),
	}
	h.profile = &Profile{
		Name:     "home",
		Login:    "gw@example.org",
		Message:  "online",
		Dialplan: "default",
		IP:       "127.0.0.1",
		Exten:    "1000",
		Handle:   h.handle,
	}
	opts := Options{
		Catalog:      codec.NewCatalog(codec.DefaultRegistry(), []string{"PCMU", "G729"}),
		Resolver:     candidate.NewResolver(h.binder),
		Bootstrapper: media.NewBootstrapper(h.factory.build),
		Ports:        h.ports,
		Profiles:     fakeProfiles{"home": h.profile},
		Channels:     &fakeChannels{},
		Timing: Timing{
			Tick:          time.Millisecond,
			OutboundDelay: 500 * time.Millisecond,
			InboundDelay:  500 * time.Millisecond,
			RetryInterval: 500 * time.Millisecond,
			Timeout:       5 * time.Second,
		},
		DTMFDuration:  800,
		DTMFQueueSize: 8,
		Recorder:      h.recorder,
	}
	for _, fn := range tweak {
		fn(&opts, h.profile)
	}
	h.endpoint = NewEndpoint(opts)
	t.Cleanup(h.endpoint.Close)
	return h
}

var (
	pcmu = signaling.Payload{Name: "PCMU", ID: 0, Rate: 8000}
	gsm  = signaling.Payload{Name: "GSM", ID: 3, Rate: 8000}
	g729 = signaling.Payload{Name: "G729", ID: 18, Rate: 8000}
)

func udp(addr string, port int) signaling.Candidate {
	return signaling.Candidate{Name: "rtp", Address: addr, Port: port, Protocol: "udp", Username: "peer" + addr, Password: "peer", Preference: 1}
}

// incoming delivers a peer initiate on a fresh sub-session.
func (h *harness) incoming(t *testing.T, payloads ...signaling.Payload) (*Session, *fakeSig) {
	t.Helper()
	ss := &fakeSig{id: "4711", peer: "alice@example.org/phone"}
	ss.offer(payloads...)
	status := h.endpoint.HandleSignal(h.profile, ss, signaling.SignalInitiate, "")
	if status != signaling.StatusSuccess {
		t.Fatalf("initiate rejected")
	}
	s, ok := ss.Private().(*Session)
	if !ok {
		t.Fatalf("no call bound to sub-session")
	}
	return s, ss
}

// connect delivers a public candidate and waits for the call to go active.
func (h *harness) connect(t *testing.T, s *Session, ss *fakeSig) *fakeTransport {
	t.Helper()
	ss.propose(udp("198.51.100.20", 5000))
	if h.endpoint.HandleSignal(h.profile, ss, signaling.SignalCandidates, "") != signaling.StatusSuccess {
		t.Fatalf("candidates rejected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("call stuck in %s", s.State())
		}
		time.Sleep(time.Millisecond)
	}
	built := h.factory.built()
	return built[len(built)-1]
}
