package history

import (
	"fmt"

	"am-chat-server/src/configs/database"
	"am-chat-server/src/core/chat"
	"am-chat-server/src/core/utils"
	"am-chat-server/src/models"

	"gorm.io/gorm"
)

// HistoryDB 会话历史数据库操作结构体
type HistoryDB struct {
	db     *gorm.DB
	store  *chat.MessageStore
	logger *utils.Logger
}

// NewHistoryDB 创建会话历史数据库操作实例
func NewHistoryDB(logger *utils.Logger) *HistoryDB {
	return &HistoryDB{
		db:     database.GetDB(),
		store:  chat.NewMessageStore(logger),
		logger: logger,
	}
}

// ListChats 分页获取用户的会话列表
func (d *HistoryDB) ListChats(userID string, page, pageSize int) ([]models.Chat, int64, error) {
	var total int64
	if err := d.db.Model(&models.Chat{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	var chats []models.Chat
	if err := d.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&chats).Error; err != nil {
		return nil, 0, err
	}
	return chats, total, nil
}

// ListMessages 分页获取会话消息
func (d *HistoryDB) ListMessages(chatID string, page, pageSize int) ([]models.Message, int64, error) {
	var total int64
	if err := d.db.Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	var messages []models.Message
	if err := d.db.Where("chat_id = ?", chatID).
		Order("msg_order ASC, id ASC").
		Limit(pageSize).
		Offset(offset).
		Find(&messages).Error; err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// GetToolMessage 按 provider 调用ID获取工具消息
func (d *HistoryDB) GetToolMessage(chatID, providerID string) (*models.Message, error) {
	var msg models.Message
	err := d.db.Where("chat_id = ? AND provider_id = ?", chatID, providerID).
		Limit(1).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MergeToolMessage 在事务内合并或插入一条工具消息
func (d *HistoryDB) MergeToolMessage(chatID string, turnID int, incoming *models.Message) (uint, error) {
	var id uint
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = d.store.PersistToolMessage(tx, chatID, turnID, incoming)
		return err
	})
	return id, err
}

// SetOptimizedContent 写入消息的可读摘要缓存
func (d *HistoryDB) SetOptimizedContent(messageID uint, content string) error {
	result := d.db.Model(&models.Message{}).Where("id = ?", messageID).
		Update("optimized_content", content)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("消息不存在: id=%d", messageID)
	}
	return nil
}

// DeleteChat 删除会话及其全部消息
func (d *HistoryDB) DeleteChat(chatID string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", chatID).Delete(&models.Chat{}).Error
	})
}
