package chat

import (
	"time"

	"am-chat-server/src/core/types"
)

// TurnContext 单个对话轮次的处理上下文
// 队列以值传递的方式把快照交给分片处理器，处理器返回的
// MessageOrder/GeneratedText 由队列串接到下一个任务的快照中，
// 任务之间不共享可变状态
type TurnContext struct {
	ChatID        string
	TurnID        int
	MessageID     uint
	MessageOrder  int
	GeneratedText string
	ToolCalls     map[string]types.ToolCall // 按 provider 调用ID累积的工具调用
	StartTime     time.Time
}

// FlushContext 轮次结束时落库助手消息所需的上下文
// 每次轮次完成事件构造一次，由flush处理消费后丢弃，不持久化
type FlushContext struct {
	ChatID        string
	TurnID        int
	MessageID     uint
	GeneratedText string
	StartTime     time.Time
}
