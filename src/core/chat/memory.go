package chat

// MemoryInterface 对话记忆存储接口
type MemoryInterface interface {
	// QueryMemory 查询对话记忆（返回JSON字符串）
	QueryMemory(key string) (string, error)
	// SaveMemory 追加保存对话消息
	SaveMemory(dialogue []Message) error
	// ClearMemory 清空对话记忆
	ClearMemory() error
	// QueryMessagesLimit 获取最近 limit 条消息（limit<=0 返回全部）
	QueryMessagesLimit(limit int) ([]Message, error)
}
