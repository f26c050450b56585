package chat

import (
	"encoding/json"

	"am-chat-server/src/configs/database"
	"am-chat-server/src/models"

	"gorm.io/gorm"
)

// PostgresMemory 使用数据库存储会话消息（按 chatID，每条消息一行）
type PostgresMemory struct {
	db     *gorm.DB
	chatID string
}

// NewPostgresMemory 创建数据库记忆存储
func NewPostgresMemory(chatID string) *PostgresMemory {
	return &PostgresMemory{db: database.GetDB(), chatID: chatID}
}

// QueryMemory 查询会话消息（返回JSON字符串）
// 按行读取并拼装为 []Message，再转为JSON返回
func (m *PostgresMemory) QueryMemory(_ string) (string, error) {
	if m.db == nil {
		return "", nil
	}
	var rows []models.Message
	if err := m.db.Where("chat_id = ?", m.chatID).Order("msg_order ASC, id ASC").Find(&rows).Error; err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	messages := make([]Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ProviderID,
		})
	}
	bytes, err := json.Marshal(messages)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// SaveMemory 保存会话消息（追加写入，不删除旧记录）
// 仅保存传入的消息切片（通常为单条），不做预查询。
func (m *PostgresMemory) SaveMemory(dialogue []Message) error {
	if m.db == nil {
		return nil
	}
	if len(dialogue) == 0 {
		return nil
	}

	var maxOrder int
	m.db.Model(&models.Message{}).Where("chat_id = ?", m.chatID).
		Select("COALESCE(MAX(msg_order), 0)").Scan(&maxOrder)

	rows := make([]models.Message, 0, len(dialogue))
	for i, msg := range dialogue {
		rows = append(rows, models.Message{
			ChatID:     m.chatID,
			MsgOrder:   maxOrder + i + 1,
			Role:       msg.Role,
			Content:    msg.Content,
			ProviderID: msg.ToolCallID,
		})
	}
	return m.db.Create(&rows).Error
}

// ClearMemory 清空会话消息
func (m *PostgresMemory) ClearMemory() error {
	if m.db == nil {
		return nil
	}
	return m.db.Where("chat_id = ?", m.chatID).Delete(&models.Message{}).Error
}

// QueryMessagesLimit 直接获取最近 limit 条消息（limit<=0 返回全部）
func (m *PostgresMemory) QueryMessagesLimit(limit int) ([]Message, error) {
	if m.db == nil {
		return nil, nil
	}
	var rows []models.Message
	if limit > 0 {
		// 先按顺序倒序拿最近 limit 条
		if err := m.db.Where("chat_id = ?", m.chatID).
			Order("msg_order DESC, id DESC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		// 反转为正序
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else {
		if err := m.db.Where("chat_id = ?", m.chatID).
			Order("msg_order ASC, id ASC").
			Find(&rows).Error; err != nil {
			return nil, err
		}
	}

	messages := make([]Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ProviderID,
		})
	}
	return messages, nil
}
