package logic

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/model"
	"github.com/pccr10001/jinglegw/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.CallRecord{}, &model.Webhook{}))
	return db
}

type hookSink struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
}

func (h *hookSink) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		h.mu.Lock()
		h.bodies = append(h.bodies, body)
		h.mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (h *hookSink) received() []map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]interface{}(nil), h.bodies...)
}

func callInfo() calling.CallInfo {
	start := time.Now().Add(-time.Minute)
	return calling.CallInfo{
		ID:          "5b0c1a4e-0000-4000-8000-000000000001",
		Name:        "jingle/bob-0001",
		Profile:     "home",
		Direction:   "outbound",
		Remote:      "bob@example.org/desk",
		PayloadType: -1,
		State:       "new",
		StartedAt:   start,
	}
}

func TestCallRecordLifecycle(t *testing.T) {
	db := openDB(t)
	calls := repository.NewCallRepository(db)
	svc := NewCallRecordService(calls, nil)

	info := callInfo()
	svc.CallStarted(info)
	rec, err := calls.FindByID(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", rec.State)
	assert.Nil(t, rec.AnsweredAt)

	info.State = "active"
	info.Codec = "PCMU"
	info.PayloadType = 0
	info.AnsweredAt = info.StartedAt.Add(3 * time.Second)
	svc.CallAnswered(info)

	info.State = "closed"
	info.Cause = string(calling.CauseNormalClearing)
	svc.CallEnded(info)

	rec, err = calls.FindByID(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", rec.State)
	assert.Equal(t, "PCMU", rec.Codec)
	assert.Equal(t, 0, rec.PayloadType)
	require.NotNil(t, rec.AnsweredAt)
	require.NotNil(t, rec.EndedAt)
	assert.Positive(t, rec.Duration())
}

func TestCallEndedDispatchesWebhooks(t *testing.T) {
	db := openDB(t)
	hooks := repository.NewWebhookRepository(db)
	sink := &hookSink{}
	srv := sink.server(t)

	require.NoError(t, hooks.Create(&model.Webhook{Profile: "home", URL: srv.URL, Platform: "generic", Template: "{{.Remote}} {{.Cause}}", Enabled: true}))
	require.NoError(t, hooks.Create(&model.Webhook{Profile: "*", URL: srv.URL, Platform: "telegram", ChannelID: "42", Enabled: true}))
	require.NoError(t, hooks.Create(&model.Webhook{Profile: "office", URL: srv.URL, Enabled: true}))

	webhooks := NewWebhookService(hooks)
	svc := NewCallRecordService(repository.NewCallRepository(db), webhooks)

	info := callInfo()
	info.State = "closed"
	info.Cause = string(calling.CauseTimerExpired)
	svc.CallEnded(info)
	webhooks.Wait()

	bodies := sink.received()
	require.Len(t, bodies, 2)
	var generic, telegram map[string]interface{}
	for _, b := range bodies {
		if _, ok := b["chat_id"]; ok {
			telegram = b
		} else {
			generic = b
		}
	}
	require.NotNil(t, generic)
	require.NotNil(t, telegram)
	assert.Equal(t, "bob@example.org/desk RECOVERY_ON_TIMER_EXPIRE", generic["text"])
	call, ok := generic["call"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, info.ID, call["id"])
	assert.Equal(t, "42", telegram["chat_id"])
	assert.Contains(t, telegram["text"], "RECOVERY_ON_TIMER_EXPIRE")
}

func TestRenderFallsBackOnBadTemplate(t *testing.T) {
	n := notification{CallRecord: model.CallRecord{Name: "jingle/x-0001", Cause: "NORMAL_CLEARING"}}
	assert.Equal(t, "Call jingle/x-0001 ended: NORMAL_CLEARING", render("{{.Nope", n))
	assert.Contains(t, render("", n), "jingle/x-0001")
}

func TestSlackPayloadIsTextOnly(t *testing.T) {
	raw, err := payloadFor(model.Webhook{URL: "https://hooks.slack.com/services/x", Template: "hi"}, notification{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(raw))
}
