package models

import (
	"time"
)

// Chat 会话表（一个会话包含多个轮次的消息）
type Chat struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index;not null"`
	Title     string `gorm:"size:255"`
	TurnCount int    `gorm:"not null;default:0"` // 当前对话轮次（单调递增）
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Chat) TableName() string { return "chats" }
