package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/config"
	"github.com/pccr10001/jinglegw/internal/signaling"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

// ProfileWorker keeps one profile's signaling connection up and feeds its
// inbound events to the call endpoint.
type ProfileWorker struct {
	Name    string
	cfg     config.ProfileConfig
	profile *calling.Profile
	client  *signaling.Client
	manager *Manager

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	handlerMu sync.RWMutex
	handler   signaling.Handler

	connected   atomic.Bool
	connectedAt atomic.Int64
	lastErr     atomic.Value
}

func NewProfileWorker(cfg config.ProfileConfig, manager *Manager) *ProfileWorker {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	w := &ProfileWorker{
		Name:    cfg.Name,
		cfg:     cfg,
		manager: manager,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.client = signaling.NewClient(signaling.ClientConfig{
		URL:      cfg.Server,
		Login:    cfg.Login,
		Password: cfg.Password,
		Message:  cfg.Message,
	}, w)
	w.profile = &calling.Profile{
		Name:     cfg.Name,
		Login:    cfg.Login,
		Message:  cfg.Message,
		Dialplan: cfg.Dialplan,
		IP:       cfg.IP,
		ExtIP:    cfg.ExtIP,
		LANAddr:  cfg.LANAddr,
		Exten:    cfg.Exten,
		Handle:   w.client,
	}
	return w
}

func (w *ProfileWorker) Profile() *calling.Profile { return w.profile }

func (w *ProfileWorker) Client() *signaling.Client { return w.client }

// SetHandler installs the call endpoint handler for this profile.
func (w *ProfileWorker) SetHandler(h signaling.Handler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handler = h
}

// HandleSignal forwards to the installed handler. Events that arrive before
// one is installed are refused.
func (w *ProfileWorker) HandleSignal(h signaling.Handle, s signaling.Session, sig signaling.Signal, msg string) signaling.Status {
	w.handlerMu.RLock()
	handler := w.handler
	w.handlerMu.RUnlock()
	if handler == nil {
		logger.Log.Warnf("[%s] No call handler, refusing %s", w.Name, sig)
		return signaling.StatusFailure
	}
	return handler.HandleSignal(h, s, sig, msg)
}

func (w *ProfileWorker) Start() {
	go w.runLoop()
}

func (w *ProfileWorker) runLoop() {
	defer close(w.done)
	logger.Log.Infof("[%s] Worker running for %s", w.Name, w.cfg.Login)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		w.manager.handleUp()
		w.connected.Store(true)
		w.connectedAt.Store(time.Now().Unix())
		err := w.client.Run(ctx)
		w.connected.Store(false)
		w.manager.handleDown()

		select {
		case <-w.stop:
			logger.Log.Infof("[%s] Worker stopped", w.Name)
			return
		default:
		}

		if err != nil {
			w.lastErr.Store(err.Error())
			logger.Log.Errorf("[%s] Signaling connection lost: %v. Reconnecting in %s", w.Name, err, w.cfg.ReconnectInterval)
		}

		timer := time.NewTimer(w.cfg.ReconnectInterval)
		select {
		case <-w.stop:
			timer.Stop()
			logger.Log.Infof("[%s] Worker stopped", w.Name)
			return
		case <-timer.C:
		}
	}
}

func (w *ProfileWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// Status is a point-in-time view of a profile connection.
type Status struct {
	Name      string    `json:"name"`
	Login     string    `json:"login"`
	Server    string    `json:"server"`
	Dialplan  string    `json:"dialplan"`
	Exten     string    `json:"exten"`
	Ready     bool      `json:"ready"`
	Sessions  int       `json:"sessions"`
	Since     time.Time `json:"since,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func (w *ProfileWorker) Status() Status {
	st := Status{
		Name:     w.Name,
		Login:    w.cfg.Login,
		Server:   w.cfg.Server,
		Dialplan: w.cfg.Dialplan,
		Exten:    w.cfg.Exten,
		Ready:    w.client.Ready(),
		Sessions: w.client.SessionCount(),
	}
	if w.connected.Load() {
		st.Since = time.Unix(w.connectedAt.Load(), 0)
	}
	if v, ok := w.lastErr.Load().(string); ok {
		st.LastError = v
	}
	return st
}
