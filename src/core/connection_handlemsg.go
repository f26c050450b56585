package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"am-chat-server/src/models"

	"gorm.io/gorm"
)

// handleMessage 处理接收到的消息
func (h *ConnectionHandler) handleMessage(ctx context.Context, messageType int, message []byte) error {
	if messageType != 1 {
		return fmt.Errorf("未知的消息类型: %d", messageType)
	}

	var msgJSON interface{}
	if err := json.Unmarshal(message, &msgJSON); err != nil {
		return fmt.Errorf("消息格式错误: %v", err)
	}
	msgMap, ok := msgJSON.(map[string]interface{})
	if !ok {
		return fmt.Errorf("消息格式错误")
	}
	msgType, ok := msgMap["type"].(string)
	if !ok {
		return fmt.Errorf("消息类型错误")
	}

	switch msgType {
	case "chat":
		msgText, ok := msgMap["text"].(string)
		if !ok {
			return fmt.Errorf("消息格式错误")
		}
		return h.handleChatMessage(ctx, msgText)
	case "sync":
		return h.handleSyncMessage(msgMap)
	case "clear":
		h.dialogueManager.Clear()
		return h.sendJSON(map[string]interface{}{
			"type":    "clear_result",
			"success": true,
		})
	default:
		h.logger.Warn("未知消息类型: %s", msgType)
		return fmt.Errorf("未知的消息类型: %s", msgType)
	}
}

// handleSyncMessage 批量导入客户端侧的会话消息
// 已持久化且不可被当前轮次覆盖的消息会被过滤掉
func (h *ConnectionHandler) handleSyncMessage(msgMap map[string]interface{}) error {
	rawMsgs, ok := msgMap["messages"].([]interface{})
	if !ok {
		return fmt.Errorf("sync消息缺少messages参数")
	}

	incoming := make([]models.Message, 0, len(rawMsgs))
	for _, raw := range rawMsgs {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		msg := models.Message{ChatID: h.chatID, TurnID: h.talkRound}
		if v, ok := m["role"].(string); ok {
			msg.Role = v
		}
		if v, ok := m["content"].(string); ok {
			msg.Content = v
		}
		if v, ok := m["provider_id"].(string); ok {
			msg.ProviderID = v
		}
		if v, ok := m["name"].(string); ok {
			msg.Name = v
		}
		incoming = append(incoming, msg)
	}

	if h.db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	inserted := 0
	err := h.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := h.messageStore.GetNewMessages(tx, h.chatID, h.talkRound, incoming)
		if err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		var maxOrder int
		tx.Model(&models.Message{}).Where("chat_id = ?", h.chatID).
			Select("COALESCE(MAX(msg_order), 0)").Scan(&maxOrder)
		for i := range fresh {
			fresh[i].MsgOrder = maxOrder + i + 1
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return err
		}
		inserted = len(fresh)
		return nil
	})
	if err != nil {
		h.logger.Error("同步消息失败: chat=%s, %v", h.chatID, err)
		return err
	}

	h.logger.Info("同步消息完成: chat=%s, 收到=%d, 写入=%d", h.chatID, len(incoming), inserted)
	return h.sendJSON(map[string]interface{}{
		"type":     "sync_result",
		"received": len(incoming),
		"inserted": inserted,
	})
}

func (h *ConnectionHandler) sendJSON(payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化响应失败: %v", err)
	}
	return h.conn.WriteMessage(1, data)
}

// sendChunkMessage 把生成的文本分片推送给客户端
func (h *ConnectionHandler) sendChunkMessage(content string) {
	if err := h.sendJSON(map[string]interface{}{
		"type":    "chat_chunk",
		"chat_id": h.chatID,
		"content": content,
	}); err != nil {
		h.logger.Warn("推送分片失败: %v", err)
	}
}

// sendDoneMessage 通知客户端本轮次生成结束
func (h *ConnectionHandler) sendDoneMessage(round int) {
	if err := h.sendJSON(map[string]interface{}{
		"type":      "chat_done",
		"chat_id":   h.chatID,
		"round":     round,
		"timestamp": time.Now().Unix(),
	}); err != nil {
		h.logger.Warn("推送结束消息失败: %v", err)
	}
}

func (h *ConnectionHandler) sendErrorMessage(message string) {
	if err := h.sendJSON(map[string]interface{}{
		"type":    "error",
		"chat_id": h.chatID,
		"message": message,
	}); err != nil {
		h.logger.Warn("推送错误消息失败: %v", err)
	}
}
