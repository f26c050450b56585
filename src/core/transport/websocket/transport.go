package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"am-chat-server/src/configs"
	"am-chat-server/src/core/utils"

	"github.com/gorilla/websocket"
)

// HandlerFactory 为新连接创建处理协程
type HandlerFactory func(conn *websocket.Conn, chatID, userID string)

// WebSocketTransport WebSocket传输层
type WebSocketTransport struct {
	config         *configs.Config
	logger         *utils.Logger
	upgrader       websocket.Upgrader
	handlerFactory HandlerFactory
	server         *http.Server
}

// NewWebSocketTransport 创建WebSocket传输层
func NewWebSocketTransport(config *configs.Config, logger *utils.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetHandlerFactory 设置连接处理器工厂
func (t *WebSocketTransport) SetHandlerFactory(factory HandlerFactory) {
	t.handlerFactory = factory
}

// Start 启动WebSocket传输层
func (t *WebSocketTransport) Start() error {
	addr := fmt.Sprintf("%s:%d", t.config.Transport.WebSocket.IP, t.config.Transport.WebSocket.Port)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleUpgrade)

	t.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	t.logger.Info("启动WebSocket传输层 ws://%s/ws", addr)
	if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("WebSocket传输层启动失败: %v", err)
	}
	return nil
}

// Stop 停止WebSocket传输层
func (t *WebSocketTransport) Stop() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

// authenticate 校验静态token（Authorization头或token查询参数）
func (t *WebSocketTransport) authenticate(r *http.Request) error {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token != t.config.Server.Token {
		return fmt.Errorf("token无效")
	}
	return nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if err := t.authenticate(r); err != nil {
		t.logger.Warn("WebSocket认证失败: %v, user-id=%s", err, r.URL.Query().Get("user_id"))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	userID := r.URL.Query().Get("user_id")
	t.logger.Info("WebSocket认证成功: chat-id=%s, user-id=%s", chatID, userID)

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("WebSocket升级失败: %v", err)
		return
	}

	if t.handlerFactory == nil {
		t.logger.Error("连接处理器工厂未设置")
		conn.Close()
		return
	}

	t.logger.Info("WebSocket客户端连接已建立: chat-id=%s", chatID)
	go t.handlerFactory(conn, chatID, userID)
}
