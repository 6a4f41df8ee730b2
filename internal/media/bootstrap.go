package media

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Params describes the agreed media path of a call.
type Params struct {
	LocalIP     string
	LocalPort   int
	RemoteIP    string
	RemotePort  int
	PayloadType uint8
	LocalUser   string
	RemoteUser  string
}

// Factory constructs the transport for the given socket pair.
type Factory func(local, remote *net.UDPAddr, payloadType uint8) (Transport, error)

func UDPFactory(readTimeout, keepalive time.Duration) Factory {
	return func(local, remote *net.UDPAddr, payloadType uint8) (Transport, error) {
		return NewUDPTransport(local, remote, payloadType, readTimeout, keepalive)
	}
}

type Bootstrapper struct {
	factory Factory
}

func NewBootstrapper(factory Factory) *Bootstrapper {
	return &Bootstrapper{factory: factory}
}

// Bootstrap creates exactly one transport and activates ICE-lite on it.
// Any failure is reported as ErrTransportAllocationFailed.
func (b *Bootstrapper) Bootstrap(p Params) (Transport, error) {
	local, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(p.LocalIP, strconv.Itoa(p.LocalPort)))
	if err != nil {
		return nil, fmt.Errorf("%w: local %s:%d: %v", ErrTransportAllocationFailed, p.LocalIP, p.LocalPort, err)
	}
	remote, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(p.RemoteIP, strconv.Itoa(p.RemotePort)))
	if err != nil {
		return nil, fmt.Errorf("%w: remote %s:%d: %v", ErrTransportAllocationFailed, p.RemoteIP, p.RemotePort, err)
	}

	t, err := b.factory(local, remote, p.PayloadType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportAllocationFailed, err)
	}
	if err := t.ActivateICE(p.LocalUser, p.RemoteUser); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("%w: ice: %v", ErrTransportAllocationFailed, err)
	}
	return t, nil
}
