package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	frames chan *calling.Frame

	mu        sync.Mutex
	calls     []string
	hangups   int
	written   []*calling.Frame
	dtmf      []string
	closed    bool
	answerErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{frames: make(chan *calling.Frame, 8)}
}

func (f *fakeSession) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return nil
}

func (f *fakeSession) Name() string { return "jingle/test-0001" }

func (f *fakeSession) Init() error { return f.record("init") }

func (f *fakeSession) Ring() error { return f.record("ring") }

func (f *fakeSession) Execute() error { return f.record("execute") }

func (f *fakeSession) Answer() error {
	_ = f.record("answer")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answerErr
}

func (f *fakeSession) Hangup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups++
	f.closed = true
}

func (f *fakeSession) ReadFrame(ctx context.Context) (*calling.Frame, error) {
	select {
	case fr := <-f.frames:
		return fr, nil
	case <-ctx.Done():
		return nil, calling.ErrCallTerminated
	}
}

func (f *fakeSession) WriteFrame(fr *calling.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return calling.ErrCallTerminated
	}
	f.written = append(f.written, fr)
	return nil
}

func (f *fakeSession) SendDTMF(digits string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dtmf = append(f.dtmf, digits)
	return nil
}

func (f *fakeSession) snapshot() (calls []string, hangups int, written int, dtmf []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.hangups, len(f.written), append([]string(nil), f.dtmf...)
}

func TestLaunchWalksLifecycle(t *testing.T) {
	s := newFakeSession()
	started := make(chan struct{})
	ch := New(s, func(ctx context.Context, _ *Channel) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	ch.Launch()
	<-started
	calls, _, _, _ := s.snapshot()
	assert.Equal(t, []string{"init", "ring", "execute", "answer"}, calls)
	assert.Equal(t, StateExecute, ch.State())

	ch.Hangup(calling.CauseNormalClearing)
	<-ch.Done()
	assert.Equal(t, StateDone, ch.State())
	assert.True(t, ch.HungUp())
}

func TestHangupIsIdempotent(t *testing.T) {
	s := newFakeSession()
	ch := New(s, nil)

	ch.Hangup(calling.CauseTimerExpired)
	ch.Hangup(calling.CauseNormalClearing)

	_, hangups, _, _ := s.snapshot()
	assert.Equal(t, 1, hangups)
	assert.Equal(t, calling.CauseTimerExpired, ch.Cause())
}

func TestAnswerFailureDoesNotStartApp(t *testing.T) {
	s := newFakeSession()
	s.answerErr = calling.ErrCallTerminated
	var ran bool
	ch := New(s, func(context.Context, *Channel) error {
		ran = true
		return nil
	})

	ch.Answer()
	assert.Equal(t, StateNew, ch.State())
	assert.False(t, ran)
}

func TestLaunchAfterHangupDoesNothing(t *testing.T) {
	s := newFakeSession()
	ch := New(s, nil)
	ch.Hangup(calling.CauseNormalClearing)

	ch.Launch()
	calls, _, _, _ := s.snapshot()
	assert.Empty(t, calls)
}

func TestEchoReturnsFramesAndDigits(t *testing.T) {
	s := newFakeSession()
	ch := New(s, Echo)
	ch.Answer()

	ch.QueueDTMF("42")
	s.frames <- &calling.Frame{Data: []byte{1, 2, 3}, Samples: 160}

	require.Eventually(t, func() bool {
		_, _, written, _ := s.snapshot()
		return written == 1
	}, time.Second, time.Millisecond)

	_, _, _, dtmf := s.snapshot()
	assert.Equal(t, []string{"42"}, dtmf)
	assert.Empty(t, ch.Digits())

	ch.Hangup(calling.CauseNormalClearing)
	<-ch.Done()
}

func TestAppErrorHangsUp(t *testing.T) {
	s := newFakeSession()
	ch := New(s, func(context.Context, *Channel) error {
		return errors.New("boom")
	})
	ch.Answer()

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel not hung up")
	}
	_, hangups, _, _ := s.snapshot()
	assert.Equal(t, 1, hangups)
}

func TestQueueDTMFBounded(t *testing.T) {
	ch := New(newFakeSession(), nil)
	for i := 0; i < maxQueuedDigits+10; i++ {
		ch.QueueDTMF("1")
	}
	assert.Len(t, ch.Digits(), maxQueuedDigits)
}

func TestAppFor(t *testing.T) {
	assert.NotNil(t, AppFor("ECHO"))
	assert.NotNil(t, AppFor("default"))
}
