package repository

import (
	"testing"
	"time"

	"astro_chat_server/internal/model"
	"astro_chat_server/pkg/errorx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *Repositories {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every new connection would get its own empty in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.ChatMessage{}, &model.CallSession{}, &model.Setting{}))
	return NewRepositories(db)
}

func newMessage(uuid int64, sender, receiver string) *model.ChatMessage {
	return &model.ChatMessage{
		Uuid:       uuid,
		SessionId:  "S1",
		SenderId:   sender,
		ReceiverId: receiver,
		Type:       model.ChatTypeText,
		Text:       "namaste",
	}
}

func TestMessageRepository_CreateAndFind(t *testing.T) {
	repos := setupTestDB(t)

	require.NoError(t, repos.Message.Create(newMessage(1, "client1", "astro1")))

	found, err := repos.Message.FindByUuid(1)
	require.NoError(t, err)
	assert.Equal(t, "client1", found.SenderId)
	assert.False(t, found.Delivered)
	assert.False(t, found.Read)

	_, err = repos.Message.FindByUuid(404)
	assert.Equal(t, errorx.CodeNotFound, errorx.GetCode(err))
}

func TestMessageRepository_DuplicateUuid(t *testing.T) {
	repos := setupTestDB(t)

	require.NoError(t, repos.Message.Create(newMessage(1, "a", "b")))
	err := repos.Message.Create(newMessage(1, "a", "b"))
	assert.Equal(t, errorx.CodeDBError, errorx.GetCode(err))
}

func TestMessageRepository_FindBySessionIdNewestWindow(t *testing.T) {
	repos := setupTestDB(t)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, repos.Message.Create(newMessage(i, "a", "b")))
	}

	messages, err := repos.Message.FindBySessionId("S1", 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{messages[0].Uuid, messages[1].Uuid, messages[2].Uuid})

	all, err := repos.Message.FindBySessionId("S1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMessageRepository_ReceiptFlags(t *testing.T) {
	repos := setupTestDB(t)
	require.NoError(t, repos.Message.Create(newMessage(1, "a", "b")))
	require.NoError(t, repos.Message.Create(newMessage(2, "a", "b")))

	undelivered, err := repos.Message.FindUndelivered("b", 10)
	require.NoError(t, err)
	assert.Len(t, undelivered, 2)

	at := time.Now()
	require.NoError(t, repos.Message.MarkDelivered(1, at))
	// read implies delivered
	require.NoError(t, repos.Message.MarkRead(2, at))

	one, err := repos.Message.FindByUuid(1)
	require.NoError(t, err)
	assert.True(t, one.Delivered)
	assert.True(t, one.DeliveredAt.Valid)
	assert.False(t, one.Read)

	two, err := repos.Message.FindByUuid(2)
	require.NoError(t, err)
	assert.True(t, two.Delivered)
	assert.True(t, two.Read)
	assert.True(t, two.ReadAt.Valid)

	undelivered, err = repos.Message.FindUndelivered("b", 10)
	require.NoError(t, err)
	assert.Empty(t, undelivered)

	err = repos.Message.MarkDelivered(99, at)
	assert.Equal(t, errorx.CodeNotFound, errorx.GetCode(err))
}

func TestMessageRepository_MarkDeliveredKeepsFirstTimestamp(t *testing.T) {
	repos := setupTestDB(t)
	require.NoError(t, repos.Message.Create(newMessage(1, "a", "b")))

	first := time.Now().Add(-time.Hour)
	require.NoError(t, repos.Message.MarkDelivered(1, first))
	require.NoError(t, repos.Message.MarkDelivered(1, time.Now()))

	msg, err := repos.Message.FindByUuid(1)
	require.NoError(t, err)
	assert.WithinDuration(t, first, msg.DeliveredAt.Time, time.Second)
}

func TestCallRepository(t *testing.T) {
	repos := setupTestDB(t)

	require.NoError(t, repos.Call.Create(&model.CallSession{
		Uuid: "c1", CallerId: "client1", CalleeId: "astro1", Status: model.CallStatusRequested,
	}))
	require.NoError(t, repos.Call.Create(&model.CallSession{
		Uuid: "c2", CallerId: "astro1", CalleeId: "client2", Status: model.CallStatusRequested,
	}))

	require.NoError(t, repos.Call.UpdateByUuid("c1", map[string]any{
		"status": model.CallStatusEnded, "end_reason": "hangup",
	}))
	call, err := repos.Call.FindByUuid("c1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, call.Status)
	assert.Equal(t, "hangup", call.EndReason)

	calls, err := repos.Call.FindByParticipant("astro1", 10)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "c2", calls[0].Uuid)

	err = repos.Call.UpdateByUuid("missing", map[string]any{"status": model.CallStatusEnded})
	assert.Equal(t, errorx.CodeNotFound, errorx.GetCode(err))
}

func TestSettingRepository(t *testing.T) {
	repos := setupTestDB(t)

	require.NoError(t, repos.Setting.EnsureDefaults(model.DefaultSettings))
	require.NoError(t, repos.Setting.Upsert(&model.Setting{Key: "chat_rate_per_min", Value: "12"}))
	// defaults never overwrite existing values
	require.NoError(t, repos.Setting.EnsureDefaults(model.DefaultSettings))

	s, err := repos.Setting.FindByKey("chat_rate_per_min")
	require.NoError(t, err)
	assert.Equal(t, "12", s.Value)

	all, err := repos.Setting.FindAll()
	require.NoError(t, err)
	assert.Len(t, all, len(model.DefaultSettings))

	_, err = repos.Setting.FindByKey("nope")
	assert.True(t, errorx.IsNotFound(err))
}

func TestTransactionRollsBack(t *testing.T) {
	repos := setupTestDB(t)

	err := repos.Transaction(func(tx *Repositories) error {
		if err := tx.Setting.Upsert(&model.Setting{Key: "k", Value: "v"}); err != nil {
			return err
		}
		return errorx.New(errorx.CodeInvalidParam, "abort")
	})
	require.Error(t, err)

	_, err = repos.Setting.FindByKey("k")
	assert.True(t, errorx.IsNotFound(err))
}
