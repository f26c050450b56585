package history

import (
	"fmt"
	"testing"

	"am-chat-server/src/configs/database"
	"am-chat-server/src/core/utils"
	"am-chat-server/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newHistoryTestDB(t *testing.T) *HistoryDB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Chat{}, &models.Message{}))
	database.SetDB(db)
	return NewHistoryDB(utils.NewTestLogger())
}

func TestHistoryDB_ListChats(t *testing.T) {
	d := newHistoryTestDB(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.db.Create(&models.Chat{
			ID:     fmt.Sprintf("chat_%d", i),
			UserID: "u1",
			Title:  fmt.Sprintf("会话%d", i),
		}).Error)
	}
	require.NoError(t, d.db.Create(&models.Chat{ID: "other", UserID: "u2"}).Error)

	chats, total, err := d.ListChats("u1", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, chats, 2)

	chats, _, err = d.ListChats("u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestHistoryDB_ListMessages(t *testing.T) {
	d := newHistoryTestDB(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, d.db.Create(&models.Message{
			ChatID:   "c1",
			MsgOrder: i,
			Role:     "user",
			Content:  fmt.Sprintf("m%d", i),
		}).Error)
	}

	messages, total, err := d.ListMessages("c1", 1, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, messages, 3)
	assert.Equal(t, "m1", messages[0].Content)
	assert.Equal(t, "m3", messages[2].Content)
}

func TestHistoryDB_MergeToolMessage(t *testing.T) {
	d := newHistoryTestDB(t)

	id, err := d.MergeToolMessage("c1", 2, &models.Message{
		Role:         "tool",
		ProviderID:   "call_1",
		FunctionCall: datatypes.JSON(`{"name":"f","arguments":"{}"}`),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	// 同一 provider_id 的结果事件合并到原行
	mergedID, err := d.MergeToolMessage("c1", 2, &models.Message{
		Role:       "tool",
		ProviderID: "call_1",
		ToolResult: datatypes.JSON(`{"ok":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, id, mergedID)

	msg, err := d.GetToolMessage("c1", "call_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(msg.ToolResult))
	assert.Equal(t, 2, msg.ModifiedTurnID())
}

func TestHistoryDB_GetToolMessageNotFound(t *testing.T) {
	d := newHistoryTestDB(t)
	_, err := d.GetToolMessage("c1", "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestHistoryDB_SetOptimizedContent(t *testing.T) {
	d := newHistoryTestDB(t)
	row := models.Message{ChatID: "c1", Role: "tool", ProviderID: "call_1"}
	require.NoError(t, d.db.Create(&row).Error)

	require.NoError(t, d.SetOptimizedContent(row.ID, "工具结果摘要"))

	var got models.Message
	require.NoError(t, d.db.First(&got, row.ID).Error)
	require.NotNil(t, got.OptimizedContent)
	assert.Equal(t, "工具结果摘要", *got.OptimizedContent)

	// 不存在的消息报错
	assert.Error(t, d.SetOptimizedContent(99999, "x"))
}

func TestHistoryDB_DeleteChat(t *testing.T) {
	d := newHistoryTestDB(t)
	require.NoError(t, d.db.Create(&models.Chat{ID: "c1", UserID: "u1"}).Error)
	require.NoError(t, d.db.Create(&models.Message{ChatID: "c1", Role: "user", Content: "你好"}).Error)

	require.NoError(t, d.DeleteChat("c1"))

	var chatCount, msgCount int64
	d.db.Model(&models.Chat{}).Where("id = ?", "c1").Count(&chatCount)
	d.db.Model(&models.Message{}).Where("chat_id = ?", "c1").Count(&msgCount)
	assert.Zero(t, chatCount)
	assert.Zero(t, msgCount)
}
