package candidate

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBinder struct {
	local  *net.UDPAddr
	server string
	mapped *net.UDPAddr
	err    error
}

func (f *fakeBinder) Bind(_ context.Context, local *net.UDPAddr, server string) (*net.UDPAddr, error) {
	f.local, f.server = local, server
	return f.mapped, f.err
}

func TestResolvePassThrough(t *testing.T) {
	b := &fakeBinder{}
	res, err := NewResolver(b).Resolve(context.Background(), "198.51.100.7", "10.0.0.2", 16384)
	require.NoError(t, err)
	assert.Equal(t, Result{Address: "198.51.100.7", Port: 16384, Type: TypeLocal}, res)
	assert.Empty(t, b.server)
}

func TestResolveStunDefaultPort(t *testing.T) {
	b := &fakeBinder{mapped: &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 40000}}
	res, err := NewResolver(b).Resolve(context.Background(), "STUN:stun.example.org", "10.0.0.2", 16384)
	require.NoError(t, err)

	assert.Equal(t, "stun.example.org:3478", b.server)
	assert.Equal(t, "10.0.0.2", b.local.IP.String())
	assert.Equal(t, 16384, b.local.Port)
	assert.Equal(t, Result{Address: "203.0.113.9", Port: 40000, Type: TypeStun}, res)
}

func TestResolveStunFailure(t *testing.T) {
	b := &fakeBinder{err: errors.New("i/o timeout")}
	_, err := NewResolver(b).Resolve(context.Background(), "stun:stun.example.org:19302", "10.0.0.2", 16384)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStunResolutionFailed)

	var stunErr *StunError
	require.True(t, errors.As(err, &stunErr))
	assert.Equal(t, "stun.example.org:19302", stunErr.Target)
	assert.Contains(t, err.Error(), "i/o timeout")
}

func TestAcceptable(t *testing.T) {
	cases := []struct {
		proto, addr, lan string
		want             bool
	}{
		{"udp", "198.51.100.7", "", true},
		{"UDP", "198.51.100.7", "", true},
		{"tcp", "198.51.100.7", "", false},
		{"udp", "10.1.2.3", "", false},
		{"udp", "192.168.1.20", "", false},
		{"udp", "192.168.1.20", "192.168.1.", true},
		{"udp", "10.1.2.3", "192.168.1.", false},
		{"udp", "172.16.0.5", "", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Acceptable(c.proto, c.addr, c.lan), "%s %s lan=%q", c.proto, c.addr, c.lan)
	}
}

func TestRandomTokens(t *testing.T) {
	tok := RandomToken(16)
	assert.Len(t, tok, 16)
	assert.NotEqual(t, tok, RandomToken(16))

	id := RandomDigits(10)
	require.Len(t, id, 10)
	assert.NotEqual(t, byte('0'), id[0])
	_, err := strconv.ParseUint(id, 10, 64)
	assert.NoError(t, err)
}

func startStunServer(t *testing.T, answer bool) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if !answer {
				continue
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			resp, err := stun.Build(req, stun.BindingSuccess,
				&stun.XORMappedAddress{IP: from.IP, Port: from.Port}, stun.Fingerprint)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(resp.Raw, from)
		}
	}()
	return conn.LocalAddr().String()
}

func TestStunBinderLoopback(t *testing.T) {
	server := startStunServer(t, true)
	r := NewResolver(&StunBinder{Timeout: 2 * time.Second})

	res, err := r.Resolve(context.Background(), "stun:"+server, "127.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, TypeStun, res.Type)
	assert.Equal(t, "127.0.0.1", res.Address)
	assert.NotZero(t, res.Port)
}

func TestStunBinderTimeout(t *testing.T) {
	server := startStunServer(t, false)
	r := NewResolver(&StunBinder{Timeout: 150 * time.Millisecond})

	_, err := r.Resolve(context.Background(), "stun:"+server, "127.0.0.1", 0)
	assert.ErrorIs(t, err, ErrStunResolutionFailed)
}
