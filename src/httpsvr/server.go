package httpsvr

import (
	"fmt"

	"am-chat-server/src/configs"
	"am-chat-server/src/core/utils"
	"am-chat-server/src/httpsvr/history"

	"github.com/gin-gonic/gin"
)

// StartWebServer 启动HTTP管理服务
func StartWebServer(config *configs.Config, logger *utils.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	history.NewHandler(logger).RegisterRoutes(api)

	addr := fmt.Sprintf(":%d", config.Web.Port)
	logger.Info("启动HTTP服务 http://0.0.0.0%s", addr)
	return router.Run(addr)
}
