package call

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	mysqldao "astro_chat_server/internal/dao/mysql"
	"astro_chat_server/internal/dao/mysql/repository"
	"astro_chat_server/internal/model"
	"astro_chat_server/internal/service/relay"
)

func setup(t *testing.T) (*callService, *repository.Repositories) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repos, err := mysqldao.Setup(db)
	require.NoError(t, err)
	return NewCallService(repos), repos
}

func TestRecordCallLifecycle(t *testing.T) {
	svc, repos := setup(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	c := relay.Call{ID: "c1", CallerID: "client1", CalleeID: "astro1", CallerName: "Ravi", State: relay.CallOffered, OfferedAt: start}
	require.NoError(t, svc.RecordCall(c))

	row, err := repos.Call.FindByUuid("c1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRequested, row.Status)
	assert.Equal(t, "Ravi", row.CallerName)

	c.State, c.AnsweredAt = relay.CallAnswered, start.Add(5*time.Second)
	require.NoError(t, svc.RecordCall(c))
	c.State, c.ActiveAt = relay.CallActive, start.Add(6*time.Second)
	require.NoError(t, svc.RecordCall(c))

	row, err = repos.Call.FindByUuid("c1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusActive, row.Status)
	assert.True(t, row.AnsweredAt.Valid)

	c.State, c.EndReason, c.EndedAt = relay.CallEnded, "hangup", start.Add(time.Minute)
	require.NoError(t, svc.RecordCall(c))

	list, err := svc.ListByParticipant("astro1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.CallStatusEnded, list[0].Status)
	assert.Equal(t, "hangup", list[0].EndReason)
	assert.Equal(t, "2024-05-01T10:01:00Z", list[0].EndedAt)
}

func TestRecordCallWithoutOfferRow(t *testing.T) {
	svc, repos := setup(t)
	now := time.Now()

	require.NoError(t, svc.RecordCall(relay.Call{
		ID: "remote-1", CallerID: "client2", CalleeID: "astro2",
		State: relay.CallEnded, EndReason: "disconnect", OfferedAt: now, EndedAt: now,
	}))
	row, err := repos.Call.FindByUuid("remote-1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, row.Status)
	assert.Equal(t, "disconnect", row.EndReason)

	list, err := svc.ListByParticipant("nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecordCallClipsEndReason(t *testing.T) {
	svc, repos := setup(t)
	now := time.Now()
	c := relay.Call{ID: "c2", CallerID: "client3", CalleeID: "astro3", State: relay.CallOffered, OfferedAt: now}
	require.NoError(t, svc.RecordCall(c))

	c.State, c.EndedAt = relay.CallEnded, now
	c.EndReason = strings.Repeat("x", model.MaxEndReasonLen+8)
	require.NoError(t, svc.RecordCall(c))

	row, err := repos.Call.FindByUuid("c2")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, row.Status)
	assert.Len(t, row.EndReason, model.MaxEndReasonLen)
}
