package media

import (
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const softwareName = "jinglegw"

// ActivateICE enables ICE-lite on the socket: binding requests naming the
// local token are answered and the remote is probed with remote+local.
func (t *UDPTransport) ActivateICE(localUser, remoteUser string) error {
	t.mu.Lock()
	t.localUser = localUser
	t.remoteUser = remoteUser
	t.mu.Unlock()

	if err := t.sendBindingRequest(); err != nil {
		return err
	}
	if t.keepalive > 0 {
		go t.keepaliveLoop()
	}
	return nil
}

func (t *UDPTransport) keepaliveLoop() {
	ticker := time.NewTicker(t.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			_ = t.sendBindingRequest()
		}
	}
}

func (t *UDPTransport) sendBindingRequest() error {
	t.mu.RLock()
	remote, username := t.remote, t.remoteUser+t.localUser
	t.mu.RUnlock()
	if remote == nil || t.closed.Load() {
		return nil
	}

	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest,
		stun.NewUsername(username), stun.NewSoftware(softwareName), stun.Fingerprint)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(msg.Raw, remote)
	return err
}

func (t *UDPTransport) handleSTUN(data []byte, from *net.UDPAddr) {
	msg := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := msg.Decode(); err != nil {
		return
	}

	switch msg.Type {
	case stun.BindingSuccess:
		t.iceConfirmed.Store(true)
	case stun.BindingRequest:
		t.mu.RLock()
		localUser := t.localUser
		t.mu.RUnlock()
		if localUser == "" {
			return
		}
		var username stun.Username
		if err := username.GetFrom(msg); err != nil || !strings.HasPrefix(username.String(), localUser) {
			return
		}

		resp, err := stun.Build(msg, stun.BindingSuccess,
			&stun.XORMappedAddress{IP: from.IP, Port: from.Port}, stun.Fingerprint)
		if err != nil {
			return
		}
		_, _ = t.conn.WriteToUDP(resp.Raw, from)

		// Latch onto the address the peer actually sends from.
		t.mu.Lock()
		if t.remote == nil || !t.remote.IP.Equal(from.IP) || t.remote.Port != from.Port {
			t.remote = from
		}
		t.mu.Unlock()
	}
}

