package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pccr10001/jinglegw/internal/model"
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

func TestCallUpsertUpdatesLifecycle(t *testing.T) {
	repo := NewCallRepository(openDB(t))
	start := time.Now().UTC().Truncate(time.Second)

	rec := &model.CallRecord{
		ID:        "8d3c5c1e-5f7e-4a4e-9d59-000000000001",
		Name:      "jingle/bob-0001",
		Profile:   "home",
		Direction: "outbound",
		Remote:    "bob@example.org/desk",
		State:     "new",
		StartedAt: start,
	}
	require.NoError(t, repo.Upsert(rec))

	answered := start.Add(2 * time.Second)
	ended := start.Add(12 * time.Second)
	require.NoError(t, repo.Upsert(&model.CallRecord{
		ID:         rec.ID,
		Name:       rec.Name,
		Profile:    rec.Profile,
		Direction:  rec.Direction,
		Remote:     rec.Remote,
		Codec:      "PCMU",
		State:      "closed",
		Cause:      "NORMAL_CLEARING",
		StartedAt:  start,
		AnsweredAt: &answered,
		EndedAt:    &ended,
	}))

	got, err := repo.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", got.State)
	assert.Equal(t, "PCMU", got.Codec)
	assert.Equal(t, "NORMAL_CLEARING", got.Cause)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, 10*time.Second, got.Duration())
}

func TestCallListFilters(t *testing.T) {
	repo := NewCallRepository(openDB(t))
	base := time.Now().UTC()
	for i, p := range []string{"home", "office", "home"} {
		require.NoError(t, repo.Upsert(&model.CallRecord{
			ID:        "id-" + string(rune('a'+i)),
			Profile:   p,
			Remote:    p + "@example.org",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, total, err := repo.List(CallFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, "id-c", all[0].ID)

	home, total, err := repo.List(CallFilter{Profiles: []string{"home"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, home, 2)

	none, total, err := repo.List(CallFilter{Profiles: []string{}})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)

	limited, _, err := repo.List(CallFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "id-b", limited[0].ID)

	byRemote, _, err := repo.List(CallFilter{Remote: "office"})
	require.NoError(t, err)
	require.Len(t, byRemote, 1)
	assert.Equal(t, "office", byRemote[0].Profile)
}

func TestCallMarkAbandoned(t *testing.T) {
	repo := NewCallRepository(openDB(t))
	ended := time.Now().UTC()
	require.NoError(t, repo.Upsert(&model.CallRecord{ID: "open", Profile: "home", State: "active", StartedAt: ended}))
	require.NoError(t, repo.Upsert(&model.CallRecord{ID: "done", Profile: "home", State: "closed", StartedAt: ended, EndedAt: &ended}))

	n, err := repo.MarkAbandoned()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.FindByID("open")
	require.NoError(t, err)
	assert.Equal(t, "CRASH", got.Cause)
}

func TestWebhookFindByProfile(t *testing.T) {
	repo := NewWebhookRepository(openDB(t))
	require.NoError(t, repo.Create(&model.Webhook{Profile: "home", URL: "http://a", Enabled: true}))
	require.NoError(t, repo.Create(&model.Webhook{Profile: "*", URL: "http://b", Enabled: true}))
	require.NoError(t, repo.Create(&model.Webhook{Profile: "office", URL: "http://c", Enabled: true}))
	disabled := &model.Webhook{Profile: "home", URL: "http://d", Enabled: true}
	require.NoError(t, repo.Create(disabled))
	require.NoError(t, repo.db.Model(disabled).Update("enabled", false).Error)

	list, err := repo.FindByProfile("home")
	require.NoError(t, err)
	var urls []string
	for _, wh := range list {
		urls = append(urls, wh.URL)
	}
	assert.ElementsMatch(t, []string{"http://a", "http://b"}, urls)

	all, err := repo.List("")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, repo.Delete(all[0].ID))
	all, err = repo.List("home")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
