package signaling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

type ClientConfig struct {
	URL      string
	Login    string
	Password string
	// Message is announced as presence status after login.
	Message      string
	LoginTimeout time.Duration
}

// Client is a persistent presence connection implementing Handle.
type Client struct {
	cfg     ClientConfig
	handler Handler
	dialer  *websocket.Dialer

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	ready atomic.Bool
	seq   atomic.Uint64

	mu       sync.RWMutex
	roster   map[string]bool
	sessions map[string]*session
}

func NewClient(cfg ClientConfig, handler Handler) *Client {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		handler:  handler,
		dialer:   websocket.DefaultDialer,
		roster:   make(map[string]bool),
		sessions: make(map[string]*session),
	}
}

func (c *Client) Login() string { return c.cfg.Login }

func (c *Client) Ready() bool { return c.ready.Load() }

// Probe resolves a recipient against the roster and returns the full id
// to address. A bare id matches any available resource of the contact.
func (c *Client) Probe(jid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.roster[jid] {
		return jid, true
	}
	if i := strings.IndexByte(jid, '/'); i > 0 {
		if c.roster[jid[:i]] {
			return jid, true
		}
		return "", false
	}
	prefix := jid + "/"
	for full := range c.roster {
		if strings.HasPrefix(full, prefix) {
			return full, true
		}
	}
	return "", false
}

func (c *Client) NewSession(id, to string) (Session, error) {
	if !c.Ready() {
		return nil, ErrNotConnected
	}
	s := newSession(c, id, to)
	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()
	return s, nil
}

// Run dials the server, logs in, announces presence and serves inbound
// events until ctx is cancelled or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() {
		c.ready.Store(false)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
	}()

	if err := c.login(conn); err != nil {
		return err
	}
	if err := c.send(&Envelope{Type: TypePresence, From: c.cfg.Login, Status: PresenceAvailable, Body: c.cfg.Message}); err != nil {
		return err
	}
	c.ready.Store(true)
	logger.Log.Infof("Signaling connected as %s", c.cfg.Login)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := ParseEnvelope(raw)
		if err != nil {
			logger.Log.Warnf("Signaling: dropping malformed frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) login(conn *websocket.Conn) error {
	if err := c.send(&Envelope{Type: TypeLogin, From: c.cfg.Login, Password: c.cfg.Password}); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.LoginTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	env, err := ParseEnvelope(raw)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if env.Type != TypeLogin || env.Status != StatusSuccess.String() {
		return fmt.Errorf("%w: %s", ErrLoginRejected, env.Body)
	}
	return nil
}

func (c *Client) dispatch(env *Envelope) {
	switch env.Type {
	case TypeRoster:
		c.mu.Lock()
		for _, jid := range env.Roster {
			c.roster[jid] = true
		}
		c.mu.Unlock()
		return
	case TypePresence:
		c.mu.Lock()
		if env.Status == PresenceUnavailable {
			delete(c.roster, env.From)
		} else {
			c.roster[env.From] = true
		}
		c.mu.Unlock()
		return
	case TypeAck:
		return
	}

	sig := signalFor(env)
	if sig == SignalNone {
		logger.Log.Debugf("Signaling: ignoring %s/%s", env.Type, env.Action)
		return
	}

	s := c.lookup(env)
	if s == nil {
		switch {
		case sig == SignalMessage:
			logger.Log.Debugf("Signaling: message from %s outside any call", env.From)
			return
		case sig == SignalInitiate && env.Action != string(DescriptionInitiate):
			// Only a peer initiate opens a sub-session. A late accept
			// belongs to a call we already destroyed.
			logger.Log.Debugf("Signaling: %s from %s for dead session %s", env.Action, env.From, env.Session)
			c.ack(env, StatusFailure)
			return
		}
		s = newSession(c, env.Session, env.From)
		if sig == SignalInitiate {
			c.mu.Lock()
			c.sessions[env.Session] = s
			c.mu.Unlock()
		}
	}
	s.update(env)

	c.ack(env, c.handler.HandleSignal(c, s, sig, env.Body))
}

func (c *Client) ack(env *Envelope, status Status) {
	if env.ID != "" {
		_ = c.send(&Envelope{Type: TypeAck, ID: env.ID, To: env.From, Session: env.Session, Status: status.String()})
	}
}

func (c *Client) lookup(env *Envelope) *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if env.Session != "" {
		return c.sessions[env.Session]
	}
	for _, s := range c.sessions {
		if s.peer == env.From {
			return s
		}
	}
	return nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

func (c *Client) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Client) send(env *Envelope) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if env.ID == "" && env.Type != TypeAck {
		env.ID = strconv.FormatUint(c.seq.Add(1), 10)
	}
	if env.From == "" {
		env.From = c.cfg.Login
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}
