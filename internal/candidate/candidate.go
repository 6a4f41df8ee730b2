package candidate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	TypeLocal   = "local"
	TypeStun    = "stun"
	ProtocolUDP = "udp"

	DefaultStunPort = 3478
	stunPrefix      = "stun:"
)

var ErrStunResolutionFailed = errors.New("stun resolution failed")

// StunError carries the relay target that could not be queried.
type StunError struct {
	Target string
	Err    error
}

func (e *StunError) Error() string {
	return fmt.Sprintf("stun lookup via %s failed: %v", e.Target, e.Err)
}

func (e *StunError) Unwrap() []error {
	return []error{ErrStunResolutionFailed, e.Err}
}

// Result is the effective address advertised for a local candidate.
type Result struct {
	Address string
	Port    int
	Type    string
}

// Binder performs a STUN binding request from a local address.
type Binder interface {
	Bind(ctx context.Context, local *net.UDPAddr, server string) (*net.UDPAddr, error)
}

type Resolver struct {
	binder Binder
}

func NewResolver(binder Binder) *Resolver {
	if binder == nil {
		binder = &StunBinder{Timeout: 3 * time.Second}
	}
	return &Resolver{binder: binder}
}

func IsStun(advertised string) bool {
	return len(advertised) >= len(stunPrefix) && strings.EqualFold(advertised[:len(stunPrefix)], stunPrefix)
}

// Resolve returns the address to advertise for a media socket bound on
// localIP:port. A "stun:host[:port]" address is replaced by the mapping the
// relay reports for that socket.
func (r *Resolver) Resolve(ctx context.Context, advertised, localIP string, port int) (Result, error) {
	if !IsStun(advertised) {
		return Result{Address: advertised, Port: port, Type: TypeLocal}, nil
	}

	target := stunTarget(advertised[len(stunPrefix):])
	local := &net.UDPAddr{IP: net.ParseIP(localIP), Port: port}
	mapped, err := r.binder.Bind(ctx, local, target)
	if err != nil {
		return Result{}, &StunError{Target: target, Err: err}
	}
	return Result{Address: mapped.IP.String(), Port: mapped.Port, Type: TypeStun}, nil
}

func stunTarget(hostport string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(strings.Trim(hostport, "[]"), strconv.Itoa(DefaultStunPort))
}

// Acceptable applies the remote candidate filter: UDP only, and either
// inside the profile LAN prefix or outside the 10/8 and 192.168/16 ranges.
func Acceptable(protocol, address, lanPrefix string) bool {
	if !strings.EqualFold(protocol, ProtocolUDP) {
		return false
	}
	if lanPrefix != "" && strings.HasPrefix(address, lanPrefix) {
		return true
	}
	return !strings.HasPrefix(address, "10.") && !strings.HasPrefix(address, "192.168.")
}

const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken returns an ICE-lite credential token.
func RandomToken(n int) string {
	return randomFrom(tokenChars, n)
}

// RandomDigits returns a numeric identifier without a leading zero.
func RandomDigits(n int) string {
	if n <= 0 {
		return ""
	}
	return randomFrom("123456789", 1) + randomFrom("0123456789", n-1)
}

func randomFrom(chars string, n int) string {
	ret := make([]byte, n)
	max := big.NewInt(int64(len(chars)))
	for i := range ret {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		ret[i] = chars[num.Int64()]
	}
	return string(ret)
}

// StunBinder sends a single Binding request from a socket bound on the
// local media address and reads back the mapped address.
type StunBinder struct {
	Timeout time.Duration
}

func (b *StunBinder) Bind(ctx context.Context, local *net.UDPAddr, server string) (*net.UDPAddr, error) {
	srvAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if _, err := conn.WriteToUDP(req.Raw, srvAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !from.IP.Equal(srvAddr.IP) || from.Port != srvAddr.Port {
			continue
		}

		resp := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := resp.Decode(); err != nil {
			continue
		}
		if resp.TransactionID != req.TransactionID {
			continue
		}

		var xor stun.XORMappedAddress
		if err := xor.GetFrom(resp); err == nil {
			return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, nil
		}
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(resp); err == nil {
			return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
		}
		return nil, errors.New("binding response carried no mapped address")
	}
}
