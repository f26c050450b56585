package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"am-chat-server/src/configs"
	"am-chat-server/src/core/providers"
	"am-chat-server/src/core/types"
	"am-chat-server/src/core/utils"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider 基于OpenAI兼容接口的流式LLM提供方
type OpenAIProvider struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	logger      *utils.Logger
}

// NewOpenAIProvider 创建OpenAI提供方实例
func NewOpenAIProvider(cfg configs.LLMConfig, logger *utils.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		modelName:   cfg.ModelName,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}
}

func toOpenAIMessages(messages []providers.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func toOpenAITools(tools []providers.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// ResponseWithFunctions 发起携带工具定义的流式对话请求
func (p *OpenAIProvider) ResponseWithFunctions(ctx context.Context, sessionID string, messages []providers.Message, tools []providers.Tool) (<-chan providers.Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.modelName,
		Messages:    toOpenAIMessages(messages),
		Tools:       toOpenAITools(tools),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Stream:      true,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("创建流式请求失败: %v", err)
	}

	ch := make(chan providers.Chunk, 10)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				p.logger.Error("流式响应接收失败: session=%s, %v", sessionID, err)
				ch <- providers.Chunk{Error: err.Error()}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			chunk := providers.Chunk{Content: delta.Content}
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				chunk.ToolCalls = append(chunk.ToolCalls, types.ToolCall{
					ID:    tc.ID,
					Type:  string(tc.Type),
					Index: index,
					Function: types.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			ch <- chunk
		}
	}()
	return ch, nil
}
