package providers

import (
	"context"

	"am-chat-server/src/core/types"
)

type Message = types.Message

// Tool 暴露给LLM的工具定义
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Chunk 流式响应的单个分片
type Chunk struct {
	Content   string           `json:"content"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// LLMProvider LLM提供方接口
// 返回分片通道，流结束时关闭；错误通过分片的 Error 字段传递
type LLMProvider interface {
	ResponseWithFunctions(ctx context.Context, sessionID string, messages []Message, tools []Tool) (<-chan Chunk, error)
}
