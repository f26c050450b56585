package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"am-chat-server/src/configs"
	"am-chat-server/src/configs/database"
	"am-chat-server/src/core/chat"
	"am-chat-server/src/core/providers"
	"am-chat-server/src/core/types"
	"am-chat-server/src/core/utils"
	"am-chat-server/src/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conn 客户端连接抽象（WebSocket实现于transport层）
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ConnectionHandler 单个客户端连接的处理器
type ConnectionHandler struct {
	config           *configs.Config
	logger           *utils.Logger
	conn             Conn
	db               *gorm.DB
	provider         providers.LLMProvider
	functionRegister *FunctionRegistry
	dialogueManager  *chat.DialogueManager
	messageStore     *chat.MessageStore

	chatID    string
	userID    string
	talkRound int // 对话轮次，单调递增
}

// NewConnectionHandler 创建连接处理器
// chatID为空时新建会话；按配置选择对话存储后端
func NewConnectionHandler(config *configs.Config, logger *utils.Logger, provider providers.LLMProvider, register *FunctionRegistry, conn Conn, chatID, userID string) (*ConnectionHandler, error) {
	if chatID == "" {
		chatID = utils.GenerateChatID()
	}

	var memory chat.MemoryInterface
	switch config.DialogStorage {
	case "redis":
		rm, err := chat.NewRedisMemory(config.RedisCache, logger, chatID)
		if err != nil {
			logger.Warn("Redis记忆存储初始化失败，回退到数据库存储: %v", err)
			memory = chat.NewPostgresMemory(chatID)
		} else {
			memory = rm
		}
	default:
		memory = chat.NewPostgresMemory(chatID)
	}

	h := &ConnectionHandler{
		config:           config,
		logger:           logger,
		conn:             conn,
		db:               database.GetDB(),
		provider:         provider,
		functionRegister: register,
		dialogueManager:  chat.NewDialogueManager(logger, memory),
		messageStore:     chat.NewMessageStore(logger),
		chatID:           chatID,
		userID:           userID,
	}

	if err := h.ensureChat(); err != nil {
		return nil, err
	}

	h.dialogueManager.SetSystemMessage(config.DefaultPrompt)
	if err := h.dialogueManager.LoadFromStorage(); err != nil {
		logger.Warn("加载历史对话失败: %v", err)
	}
	h.talkRound = h.currentTurnCount()

	return h, nil
}

// ensureChat 确保会话记录存在
func (h *ConnectionHandler) ensureChat() error {
	if h.db == nil {
		return nil
	}
	var existing models.Chat
	err := h.db.Where("id = ?", h.chatID).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return h.db.Create(&models.Chat{ID: h.chatID, UserID: h.userID}).Error
}

func (h *ConnectionHandler) currentTurnCount() int {
	if h.db == nil {
		return 0
	}
	var existing models.Chat
	if err := h.db.Where("id = ?", h.chatID).First(&existing).Error; err != nil {
		return 0
	}
	return existing.TurnCount
}

// Handle 连接读循环
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer h.conn.Close()
	h.logger.Info("连接已建立: chat=%s, user=%s", h.chatID, h.userID)

	for {
		messageType, message, err := h.conn.ReadMessage()
		if err != nil {
			h.logger.Info("连接已断开: chat=%s, %v", h.chatID, err)
			return
		}
		if err := h.handleMessage(ctx, messageType, message); err != nil {
			h.logger.Error("处理消息失败: chat=%s, %v", h.chatID, err)
		}
	}
}

// handleChatMessage 处理一条用户聊天消息，开启新的对话轮次
func (h *ConnectionHandler) handleChatMessage(ctx context.Context, text string) error {
	h.talkRound++
	currentRound := h.talkRound
	h.logger.Info("开始新的对话轮次: chat=%s, round=%d", h.chatID, currentRound)

	if h.db != nil {
		if err := h.db.Model(&models.Chat{}).Where("id = ?", h.chatID).
			Update("turn_count", currentRound).Error; err != nil {
			h.logger.Warn("更新会话轮次失败: %v", err)
		}
	}

	// 添加用户消息到对话历史
	h.dialogueManager.Put(chat.Message{
		Role:    "user",
		Content: text,
	})

	return h.genResponseByLLM(ctx, h.dialogueManager.GetLLMDialogue(), currentRound)
}

func (h *ConnectionHandler) genResponseByLLM(ctx context.Context, messages []providers.Message, round int) error {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("genResponseByLLM发生panic: %v", r)
			h.sendErrorMessage("抱歉，处理您的请求时发生了错误")
		}
	}()

	llmStartTime := time.Now()
	tools := h.functionRegister.GetAllFunctions()
	responses, err := h.provider.ResponseWithFunctions(ctx, h.chatID, messages, tools)
	if err != nil {
		return fmt.Errorf("LLM生成回复失败: %v", err)
	}

	// 本轮次的顺序处理队列：分片落库严格按到达顺序执行
	queue := chat.NewProcessingQueue(h.processStreamChunk, chat.TurnContext{
		ChatID:    h.chatID,
		TurnID:    round,
		ToolCalls: make(map[string]types.ToolCall),
		StartTime: llmStartTime,
	}, h.logger)

	// 处理流式响应
	toolCallFlag := false
	functionName := ""
	functionID := ""
	functionArguments := ""
	firstSegment := true
	var lastTask *chat.QueuedTask

	for response := range responses {
		if response.Error != "" {
			h.logger.Error("LLM响应错误: %s", response.Error)
			h.sendErrorMessage("抱歉，服务暂时不可用，请稍后再试")
			return fmt.Errorf("LLM响应错误: %s", response.Error)
		}

		if len(response.ToolCalls) > 0 {
			toolCallFlag = true
			if response.ToolCalls[0].ID != "" {
				functionID = response.ToolCalls[0].ID
			}
			if response.ToolCalls[0].Function.Name != "" {
				functionName = response.ToolCalls[0].Function.Name
			}
			if response.ToolCalls[0].Function.Arguments != "" {
				functionArguments += response.ToolCalls[0].Function.Arguments
			}
		}

		lastTask = queue.Enqueue(response)

		if response.Content != "" && !toolCallFlag {
			if firstSegment {
				h.logger.Info("LLM回复耗时 %s 生成首个分片, round=%d", time.Since(llmStartTime), round)
				firstSegment = false
			}
			h.sendChunkMessage(response.Content)
		}
	}

	// 等待队列排空后取最终快照
	if lastTask != nil {
		if _, err := lastTask.Wait(); err != nil {
			h.logger.Warn("末尾分片处理失败: %v", err)
		}
	}
	snapshot := queue.Snapshot()

	h.flushAssistantMessage(chat.FlushContext{
		ChatID:        h.chatID,
		TurnID:        round,
		MessageID:     snapshot.MessageID,
		GeneratedText: snapshot.GeneratedText,
		StartTime:     llmStartTime,
	})

	if toolCallFlag {
		return h.handleToolCall(ctx, round, functionID, functionName, functionArguments)
	}

	// 添加助手回复到对话历史
	if snapshot.GeneratedText != "" {
		h.dialogueManager.Put(chat.Message{
			Role:    "assistant",
			Content: snapshot.GeneratedText,
		})
	}
	h.sendDoneMessage(round)
	return nil
}

// processStreamChunk 队列注入的分片处理器
// 把累积文本写入本轮次的助手消息行，首个分片负责建行
func (h *ConnectionHandler) processStreamChunk(chunkData providers.Chunk, tc chat.TurnContext) (chat.ProcessResult, error) {
	text := tc.GeneratedText + chunkData.Content
	if text == "" || h.db == nil {
		return chat.ProcessResult{MessageOrder: tc.MessageOrder, GeneratedText: text, Success: true}, nil
	}

	var row models.Message
	err := h.db.Where("chat_id = ? AND turn_id = ? AND role = ?", tc.ChatID, tc.TurnID, "assistant").
		Limit(1).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		var maxOrder int
		h.db.Model(&models.Message{}).Where("chat_id = ?", tc.ChatID).
			Select("COALESCE(MAX(msg_order), 0)").Scan(&maxOrder)
		row = models.Message{
			ChatID:   tc.ChatID,
			TurnID:   tc.TurnID,
			MsgOrder: maxOrder + 1,
			Role:     "assistant",
			Content:  text,
		}
		if err := h.db.Create(&row).Error; err != nil {
			return chat.ProcessResult{}, fmt.Errorf("创建助手消息失败: %v", err)
		}
		return chat.ProcessResult{MessageOrder: row.MsgOrder, GeneratedText: text, Success: true}, nil
	}
	if err != nil {
		return chat.ProcessResult{}, err
	}

	if err := h.db.Model(&models.Message{}).Where("id = ?", row.ID).
		Update("content", text).Error; err != nil {
		return chat.ProcessResult{}, fmt.Errorf("更新助手消息失败: %v", err)
	}
	return chat.ProcessResult{MessageOrder: row.MsgOrder, GeneratedText: text, Success: true}, nil
}

// flushAssistantMessage 轮次结束时最终落库助手消息
func (h *ConnectionHandler) flushAssistantMessage(f chat.FlushContext) {
	if f.GeneratedText == "" || h.db == nil {
		return
	}
	if err := h.db.Model(&models.Message{}).
		Where("chat_id = ? AND turn_id = ? AND role = ?", f.ChatID, f.TurnID, "assistant").
		Update("content", f.GeneratedText).Error; err != nil {
		h.logger.Error("落库助手消息失败: chat=%s, round=%d, %v", f.ChatID, f.TurnID, err)
		return
	}
	h.logger.Info("轮次完成: chat=%s, round=%d, 耗时=%s, 文本长度=%d",
		f.ChatID, f.TurnID, time.Since(f.StartTime), len(f.GeneratedText))
}

// handleToolCall 执行工具调用并把调用与结果合并落库，然后携带结果再次请求LLM
func (h *ConnectionHandler) handleToolCall(ctx context.Context, round int, functionID, functionName, functionArguments string) error {
	if functionID == "" {
		functionID = uuid.New().String()
	}

	arguments := make(map[string]interface{})
	if functionArguments != "" {
		if err := json.Unmarshal([]byte(functionArguments), &arguments); err != nil {
			h.logger.Error("函数调用参数解析失败: %v", err)
		}
	}
	h.logger.Info("函数调用: name=%s, id=%s", functionName, functionID)

	functionCall, _ := json.Marshal(map[string]interface{}{
		"name":      functionName,
		"arguments": functionArguments,
	})

	// 落库工具调用事件（与后续结果事件按 provider_id 合并为一行）
	if h.db != nil {
		err := h.db.Transaction(func(tx *gorm.DB) error {
			_, err := h.messageStore.PersistToolMessage(tx, h.chatID, round, &models.Message{
				Role:         "tool",
				ProviderID:   functionID,
				Name:         functionName,
				FunctionCall: functionCall,
			})
			return err
		})
		if err != nil {
			h.logger.Error("落库工具调用失败: %v", err)
		}
	}

	resultText, err := h.functionRegister.Execute(functionName, arguments)
	if err != nil {
		h.logger.Error("函数调用失败: %v", err)
		resultText = "工具调用失败"
	}

	// 落库工具结果事件
	if h.db != nil {
		toolResult, _ := json.Marshal(resultText)
		err := h.db.Transaction(func(tx *gorm.DB) error {
			_, err := h.messageStore.PersistToolMessage(tx, h.chatID, round, &models.Message{
				Role:       "tool",
				ProviderID: functionID,
				Name:       functionName,
				ToolResult: toolResult,
			})
			return err
		})
		if err != nil {
			h.logger.Error("落库工具结果失败: %v", err)
		}
	}

	h.addToolCallMessage(resultText, functionID, functionName, functionArguments)
	return h.genResponseByLLM(ctx, h.dialogueManager.GetLLMDialogue(), round)
}

// addToolCallMessage 把工具调用与结果追加到对话历史
func (h *ConnectionHandler) addToolCallMessage(toolResultText, functionID, functionName, functionArguments string) {
	h.dialogueManager.Put(chat.Message{
		Role: "assistant",
		ToolCalls: []types.ToolCall{{
			ID: functionID,
			Function: types.FunctionCall{
				Arguments: functionArguments,
				Name:      functionName,
			},
			Type:  "function",
			Index: 0,
		}},
	})

	h.dialogueManager.Put(chat.Message{
		Role:       "tool",
		ToolCallID: functionID,
		Content:    toolResultText,
	})
}
