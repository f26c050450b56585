package history

import (
	"net/http"
	"strconv"
	"strings"

	"am-chat-server/src/core/utils"
	"am-chat-server/src/models"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Handler 会话历史HTTP处理器
type Handler struct {
	db     *HistoryDB
	logger *utils.Logger
}

// NewHandler 创建会话历史HTTP处理器
func NewHandler(logger *utils.Logger) *Handler {
	return &Handler{
		db:     NewHistoryDB(logger),
		logger: logger,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/chats", h.listChats)
	r.GET("/chats/:chat_id/messages", h.listMessages)
	r.GET("/chats/:chat_id/tool/:provider_id", h.getToolMessage)
	r.POST("/chats/:chat_id/tool", h.mergeToolMessage)
	r.POST("/messages/:id/optimized", h.setOptimizedContent)
	r.DELETE("/chats/:chat_id", h.deleteChat)
}

func (h *Handler) listChats(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		utils.Error(c, http.StatusBadRequest, "缺少user_id参数")
		return
	}

	params := utils.ParsePageParams(c, 1, 20, 100)
	chats, total, err := h.db.ListChats(userID, params.Page, params.PageSize)
	if err != nil {
		utils.ErrorWithDetail(c, http.StatusInternalServerError, "查询会话列表失败", err)
		return
	}
	utils.Success(c, gin.H{
		"total": total,
		"page":  params.Page,
		"chats": chats,
	})
}

func (h *Handler) listMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	params := utils.ParsePageParams(c, 1, 50, 200)
	messages, total, err := h.db.ListMessages(chatID, params.Page, params.PageSize)
	if err != nil {
		utils.ErrorWithDetail(c, http.StatusInternalServerError, "查询消息失败", err)
		return
	}
	utils.Success(c, gin.H{
		"total":    total,
		"page":     params.Page,
		"messages": messages,
	})
}

func (h *Handler) getToolMessage(c *gin.Context) {
	chatID := c.Param("chat_id")
	providerID := c.Param("provider_id")
	msg, err := h.db.GetToolMessage(chatID, providerID)
	if err == gorm.ErrRecordNotFound {
		utils.Error(c, http.StatusNotFound, "工具消息不存在")
		return
	}
	if err != nil {
		utils.ErrorWithDetail(c, http.StatusInternalServerError, "查询工具消息失败", err)
		return
	}
	utils.Success(c, msg)
}

// mergeToolMessageRequest 工具消息合并请求
type mergeToolMessageRequest struct {
	TurnID       int            `json:"turn_id" binding:"required"`
	ProviderID   string         `json:"provider_id" binding:"required"`
	Name         string         `json:"name"`
	FunctionCall datatypes.JSON `json:"function_call"`
	ToolResult   datatypes.JSON `json:"tool_result"`
}

func (h *Handler) mergeToolMessage(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req mergeToolMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorWithDetail(c, http.StatusBadRequest, "请求参数错误", err)
		return
	}

	id, err := h.db.MergeToolMessage(chatID, req.TurnID, &models.Message{
		Role:         "tool",
		ProviderID:   req.ProviderID,
		Name:         req.Name,
		FunctionCall: req.FunctionCall,
		ToolResult:   req.ToolResult,
	})
	if err != nil {
		utils.ErrorWithDetail(c, http.StatusInternalServerError, "合并工具消息失败", err)
		return
	}
	utils.Success(c, gin.H{"message_id": id})
}

func (h *Handler) setOptimizedContent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "消息ID无效")
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorWithDetail(c, http.StatusBadRequest, "请求参数错误", err)
		return
	}

	if err := h.db.SetOptimizedContent(uint(id), req.Content); err != nil {
		utils.ErrorWithDetail(c, http.StatusInternalServerError, "写入摘要失败", err)
		return
	}
	utils.Success(c, nil)
}

func (h *Handler) deleteChat(c *gin.Context) {
	chatID := c.Param("chat_id")
	if err := h.db.DeleteChat(chatID); err != nil {
		utils.ErrorWithDetail(c, http.StatusInternalServerError, "删除会话失败", err)
		return
	}
	utils.Success(c, nil)
}
