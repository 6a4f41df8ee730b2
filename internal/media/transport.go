package media

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/stun/v3"
)

// TelephoneEventPT is the dynamic payload type used for RFC 2833 events.
const TelephoneEventPT = 101

var (
	ErrTransportAllocationFailed = errors.New("transport allocation failed")
	ErrTransportClosed           = errors.New("transport closed")
)

// Packet is one received RTP payload.
type Packet struct {
	Payload        []byte
	PayloadType    uint8
	Marker         bool
	SequenceNumber uint16
	Timestamp      uint32
}

// Transport is the media path of one call. Timestamps passed to
// WritePayload are relative to the first sample written on the stream.
type Transport interface {
	// Read waits at most the configured read timeout and returns a nil
	// packet when nothing arrived.
	Read(ctx context.Context) (*Packet, error)
	Write(payload []byte, samples uint32) error
	WritePayload(payload []byte, payloadType uint8, timestamp uint32, marker bool) error
	ActivateICE(localUser, remoteUser string) error
	LocalAddr() *net.UDPAddr
	Close() error
}

type UDPTransport struct {
	conn        *net.UDPConn
	payloadType uint8
	ssrc        uint32
	tsBase      uint32
	readTimeout time.Duration
	keepalive   time.Duration

	sendMu sync.Mutex
	seq    uint16
	sent   uint32

	mu         sync.RWMutex
	remote     *net.UDPAddr
	localUser  string
	remoteUser string

	iceConfirmed atomic.Bool
	closed       atomic.Bool
	stop         chan struct{}
	stopOnce     sync.Once
	buf          []byte
}

func NewUDPTransport(local, remote *net.UDPAddr, payloadType uint8, readTimeout, keepalive time.Duration) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, err
	}
	if readTimeout <= 0 {
		readTimeout = 20 * time.Millisecond
	}
	var seed [8]byte
	_, _ = rand.Read(seed[:])

	return &UDPTransport{
		conn:        conn,
		payloadType: payloadType,
		ssrc:        binary.BigEndian.Uint32(seed[:4]),
		tsBase:      binary.BigEndian.Uint32(seed[4:]),
		seq:         binary.BigEndian.Uint16(seed[2:4]),
		readTimeout: readTimeout,
		keepalive:   keepalive,
		remote:      remote,
		stop:        make(chan struct{}),
		buf:         make([]byte, 1500),
	}, nil
}

func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *UDPTransport) RemoteAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remote
}

func (t *UDPTransport) ICEConfirmed() bool {
	return t.iceConfirmed.Load()
}

func (t *UDPTransport) Read(ctx context.Context) (*Packet, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	n, from, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		if t.closed.Load() {
			return nil, ErrTransportClosed
		}
		return nil, err
	}

	data := t.buf[:n]
	if stun.IsMessage(data) {
		t.handleSTUN(data, from)
		return nil, nil
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, nil
	}
	return &Packet{
		Payload:        append([]byte(nil), pkt.Payload...),
		PayloadType:    pkt.PayloadType,
		Marker:         pkt.Marker,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
	}, nil
}

// Write sends a media frame at the current stream position and advances
// the clock by samples.
func (t *UDPTransport) Write(payload []byte, samples uint32) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	err := t.sendLocked(payload, t.payloadType, t.sent, false)
	t.sent += samples
	return err
}

func (t *UDPTransport) WritePayload(payload []byte, payloadType uint8, timestamp uint32, marker bool) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.sendLocked(payload, payloadType, timestamp, marker)
}

func (t *UDPTransport) sendLocked(payload []byte, payloadType uint8, timestamp uint32, marker bool) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	remote := t.RemoteAddr()
	if remote == nil {
		return fmt.Errorf("no remote address")
	}

	t.seq++
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    payloadType,
			SequenceNumber: t.seq,
			Timestamp:      t.tsBase + timestamp,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(raw, remote)
	return err
}

func (t *UDPTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		t.closed.Store(true)
		close(t.stop)
		err = t.conn.Close()
	})
	return err
}
