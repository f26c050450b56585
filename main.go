package main

import (
	"context"
	"fmt"
	"os"

	"am-chat-server/src/configs"
	"am-chat-server/src/configs/database"
	"am-chat-server/src/core"
	"am-chat-server/src/core/providers/llm"
	"am-chat-server/src/core/transport/websocket"
	"am-chat-server/src/core/utils"
	"am-chat-server/src/httpsvr"

	gws "github.com/gorilla/websocket"
)

func main() {
	config, path, err := configs.LoadConfig()
	if err != nil {
		fmt.Printf("加载配置失败: %s, %v\n", path, err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(config.Log.LogLevel, config.Log.LogDir, config.Log.LogFile)
	if err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if _, err := database.InitDB(config.DB); err != nil {
		logger.Error("初始化数据库失败: %v", err)
		os.Exit(1)
	}
	logger.Info("数据库已就绪: dialect=%s", config.DB.Dialect)

	llmCfg, ok := config.LLM[config.SelectedLLM]
	if !ok {
		for name, cfg := range config.LLM {
			llmCfg = cfg
			logger.Warn("未指定selected_llm，使用LLM配置: %s", name)
			break
		}
	}
	provider := llm.NewOpenAIProvider(llmCfg, logger)
	register := core.NewFunctionRegistry()

	if config.Web.Enabled {
		go func() {
			if err := httpsvr.StartWebServer(config, logger); err != nil {
				logger.Error("HTTP服务退出: %v", err)
			}
		}()
	}

	transport := websocket.NewWebSocketTransport(config, logger)
	transport.SetHandlerFactory(func(conn *gws.Conn, chatID, userID string) {
		handler, err := core.NewConnectionHandler(config, logger, provider, register, conn, chatID, userID)
		if err != nil {
			logger.Error("创建连接处理器失败: %v", err)
			conn.Close()
			return
		}
		handler.Handle(context.Background())
	})

	if err := transport.Start(); err != nil {
		logger.Error("传输层退出: %v", err)
		os.Exit(1)
	}
}
