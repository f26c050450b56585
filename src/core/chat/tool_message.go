package chat

import (
	"errors"

	"am-chat-server/src/core/utils"
	"am-chat-server/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageStore 消息表的读写操作
// 工具消息的合并在调用方提供的事务内执行；读和写是两条语句，
// 同一 provider_id 上并发事务的竞争由外部事务隔离级别约束
type MessageStore struct {
	logger *utils.Logger
}

// NewMessageStore 创建消息存储
func NewMessageStore(logger *utils.Logger) *MessageStore {
	return &MessageStore{logger: logger}
}

// jsonDefined 判断JSON负载是否"有值"
// 空容器（{}、[]）和标量（"0"、false）都算有值，nil 和字面 null 不算
func jsonDefined(v datatypes.JSON) bool {
	return len(v) > 0 && string(v) != "null"
}

// UpsertToolMessage 按 provider 调用ID合并工具消息
// 工具调用事件和其结果事件共享同一个 provider_id，但作为独立分片
// （可能跨轮次）到达，这里把它们收敛为一行并拒绝过期更新。
//
// 返回已存在行的ID；provider_id 为空或没有匹配行时返回0，
// 由调用方决定是否插入新行。
// 仅当传入轮次严格大于已存行的 metadata.modifiedTurnId 时才执行更新。
func (s *MessageStore) UpsertToolMessage(tx *gorm.DB, chatID string, turnID int, incoming *models.Message) (uint, error) {
	if incoming == nil || incoming.ProviderID == "" {
		return 0, nil
	}

	var existing models.Message
	err := tx.Where("chat_id = ? AND provider_id = ?", chatID, incoming.ProviderID).
		Limit(1).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// 过期或重复事件：不更新，直接返回已存行
	if existing.ModifiedTurnID() >= turnID {
		return existing.ID, nil
	}

	updates := map[string]interface{}{
		"metadata":          models.MetadataForTurn(turnID),
		"optimized_content": nil, // 行更新后摘要缓存失效
	}
	// 仅在已存行缺少调用参数且传入值有定义时补上，不覆盖已有值
	if !jsonDefined(existing.FunctionCall) && jsonDefined(incoming.FunctionCall) {
		updates["function_call"] = incoming.FunctionCall
	}
	// 工具结果有定义即透传
	if jsonDefined(incoming.ToolResult) {
		updates["tool_result"] = incoming.ToolResult
	}
	if existing.Name == "" && incoming.Name != "" {
		updates["name"] = incoming.Name
	}

	if err := tx.Model(&models.Message{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// PersistToolMessage 合并或插入工具消息
// 先尝试合并；没有可合并的行时插入新行。新行的 modifiedTurnId 置0
// （尚未被任何轮次更新过），同轮次稍后到达的结果事件因此仍可合并。
func (s *MessageStore) PersistToolMessage(tx *gorm.DB, chatID string, turnID int, incoming *models.Message) (uint, error) {
	id, err := s.UpsertToolMessage(tx, chatID, turnID, incoming)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}
	if incoming.ProviderID == "" {
		return 0, nil
	}

	row := models.Message{
		ChatID:       chatID,
		TurnID:       turnID,
		MsgOrder:     incoming.MsgOrder,
		Role:         incoming.Role,
		Content:      incoming.Content,
		ProviderID:   incoming.ProviderID,
		Name:         incoming.Name,
		FunctionCall: incoming.FunctionCall,
		ToolResult:   incoming.ToolResult,
		Metadata:     models.MetadataForTurn(0),
	}
	if row.Role == "" {
		row.Role = "tool"
	}
	if err := tx.Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// GetNewMessages 过滤一批待插入消息
// 已经持久化且不可被当前轮次覆盖（modifiedTurnId >= turnID）的消息
// 被排除，其余消息返回给调用方批量插入
func (s *MessageStore) GetNewMessages(tx *gorm.DB, chatID string, turnID int, incoming []models.Message) ([]models.Message, error) {
	providerIDs := make([]string, 0, len(incoming))
	for _, msg := range incoming {
		if msg.ProviderID != "" {
			providerIDs = append(providerIDs, msg.ProviderID)
		}
	}
	if len(providerIDs) == 0 {
		return incoming, nil
	}

	var existing []models.Message
	if err := tx.Where("chat_id = ? AND provider_id IN ?", chatID, providerIDs).
		Find(&existing).Error; err != nil {
		return nil, err
	}
	modifiedTurns := make(map[string]int, len(existing))
	for i := range existing {
		modifiedTurns[existing[i].ProviderID] = existing[i].ModifiedTurnID()
	}

	fresh := make([]models.Message, 0, len(incoming))
	for _, msg := range incoming {
		if msg.ProviderID != "" {
			if modified, ok := modifiedTurns[msg.ProviderID]; ok && modified >= turnID {
				continue
			}
		}
		fresh = append(fresh, msg)
	}
	return fresh, nil
}
