package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// MessageMetadata 消息元数据（存储在 metadata JSON列中）
type MessageMetadata struct {
	ModifiedTurnID int `json:"modifiedTurnId"` // 最近一次成功更新该行的轮次号
}

// Message 按 chatID 存储的单条对话消息
// 工具消息按 (chat_id, provider_id) 去重：同一个工具调用的 call 与 result
// 合并为一行，provider_id 为上游LLM分配的调用标识
type Message struct {
	ID         uint   `gorm:"primaryKey"`
	ChatID     string `gorm:"index:idx_chat_provider;index;not null"`
	TurnID     int    `gorm:"not null;default:0"` // 该行首次创建时的轮次
	MsgOrder   int    `gorm:"not null;default:0"` // 在完整对话中的顺序
	Role       string `gorm:"size:32;not null"`
	Content    string `gorm:"type:text"`
	ProviderID string `gorm:"size:128;index:idx_chat_provider"` // 上游分配的工具调用ID
	Name       string `gorm:"size:128"`                         // 工具名称

	FunctionCall datatypes.JSON `gorm:"type:json"` // 工具调用参数
	ToolResult   datatypes.JSON `gorm:"type:json"` // 工具调用返回值
	Metadata     datatypes.JSON `gorm:"type:json"` // 元数据（modifiedTurnId等）

	OptimizedContent *string `gorm:"type:text"` // 可读摘要缓存，行更新时失效

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Message) TableName() string { return "messages" }

// ModifiedTurnID 读取元数据中的 modifiedTurnId，缺失时返回0
func (m *Message) ModifiedTurnID() int {
	if len(m.Metadata) == 0 {
		return 0
	}
	var meta MessageMetadata
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return 0
	}
	return meta.ModifiedTurnID
}

// MetadataForTurn 构造携带 modifiedTurnId 的元数据JSON
func MetadataForTurn(turnID int) datatypes.JSON {
	data, _ := json.Marshal(MessageMetadata{ModifiedTurnID: turnID})
	return datatypes.JSON(data)
}
