package chat

import (
	"encoding/json"
	"strings"

	"am-chat-server/src/core/types"
	"am-chat-server/src/core/utils"
)

type Message = types.Message

// DialogueManager 管理对话上下文和历史
type DialogueManager struct {
	logger   *utils.Logger
	dialogue []Message
	memory   MemoryInterface
}

// NewDialogueManager 创建对话管理器实例
func NewDialogueManager(logger *utils.Logger, memory MemoryInterface) *DialogueManager {
	return &DialogueManager{
		logger:   logger,
		dialogue: make([]Message, 0),
		memory:   memory,
	}
}

func (dm *DialogueManager) SetSystemMessage(systemMessage string) {
	if systemMessage == "" {
		return
	}

	// 如果对话中已经有系统消息，则更新其内容
	if len(dm.dialogue) > 0 && dm.dialogue[0].Role == "system" {
		dm.dialogue[0].Content = systemMessage
		return
	}

	// 添加新的系统消息到对话开头（系统消息不落库）
	dm.dialogue = append([]Message{
		{Role: "system", Content: systemMessage},
	}, dm.dialogue...)
}

// Put 添加新消息到对话
func (dm *DialogueManager) Put(message Message) {
	dm.dialogue = append(dm.dialogue, message)

	// 仅在非system且内容非空时持久化追加保存
	if dm.memory != nil {
		if (message.Role == "user" || message.Role == "assistant") && strings.TrimSpace(message.Content) != "" {
			if err := dm.memory.SaveMemory([]Message{message}); err != nil {
				dm.logger.Warn("保存对话失败: %v", err)
			}
		}
	}
}

// GetLLMDialogue 获取完整对话历史
func (dm *DialogueManager) GetLLMDialogue() []Message {
	return dm.dialogue
}

// KeepRecentMessages 保留system消息和最近的 maxMessages 条消息
func (dm *DialogueManager) KeepRecentMessages(maxMessages int) {
	if maxMessages <= 0 || len(dm.dialogue) <= maxMessages {
		return
	}
	if len(dm.dialogue) > 0 && dm.dialogue[0].Role == "system" {
		dm.dialogue = append(dm.dialogue[:1], dm.dialogue[len(dm.dialogue)-maxMessages:]...)
		// 截断后首条若是tool消息则移除，避免孤立的工具结果
		if len(dm.dialogue) >= 2 && dm.dialogue[1].Role == "tool" {
			dm.dialogue = append(dm.dialogue[:1], dm.dialogue[2:]...)
		}
		return
	}
	dm.dialogue = dm.dialogue[len(dm.dialogue)-maxMessages:]
}

// LoadFromJSON 用JSON字符串覆盖加载对话（保留现有system消息）
func (dm *DialogueManager) LoadFromJSON(jsonStr string) error {
	if strings.TrimSpace(jsonStr) == "" {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(jsonStr), &msgs); err != nil {
		return err
	}
	if len(dm.dialogue) > 0 && dm.dialogue[0].Role == "system" {
		dm.dialogue = append([]Message{dm.dialogue[0]}, msgs...)
	} else {
		dm.dialogue = msgs
	}
	return nil
}

// LoadFromStorage 从持久化存储加载对话到内存（覆盖当前非system内容）
func (dm *DialogueManager) LoadFromStorage() error {
	if dm.memory == nil {
		return nil
	}
	jsonStr, err := dm.memory.QueryMemory("")
	if err != nil {
		return err
	}
	return dm.LoadFromJSON(jsonStr)
}

// Clear 清空对话历史
func (dm *DialogueManager) Clear() {
	dm.dialogue = make([]Message, 0)
	if dm.memory != nil {
		if err := dm.memory.ClearMemory(); err != nil {
			dm.logger.Warn("清空记忆失败: %v", err)
		}
	}
}

func (dm *DialogueManager) Length() int {
	return len(dm.dialogue)
}

// ToJSON 将对话历史转换为JSON字符串
func (dm *DialogueManager) ToJSON(keepSystemPrompt bool) (string, error) {
	dialogue := dm.dialogue
	if !keepSystemPrompt && len(dialogue) > 0 && dialogue[0].Role == "system" {
		dialogue = dialogue[1:]
	}
	bytes, err := json.Marshal(dialogue)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
