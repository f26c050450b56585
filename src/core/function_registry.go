package core

import (
	"fmt"
	"sync"
	"time"

	"am-chat-server/src/core/providers"
)

// FunctionHandler 工具执行函数
type FunctionHandler func(args map[string]interface{}) (string, error)

// FunctionRegistry 本地工具注册表
type FunctionRegistry struct {
	mu       sync.RWMutex
	tools    map[string]providers.Tool
	handlers map[string]FunctionHandler
}

// NewFunctionRegistry 创建注册表并注册内置工具
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{
		tools:    make(map[string]providers.Tool),
		handlers: make(map[string]FunctionHandler),
	}
	r.Register(providers.Tool{
		Name:        "get_current_time",
		Description: "获取当前服务器时间",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, func(args map[string]interface{}) (string, error) {
		return time.Now().Format("2006-01-02 15:04:05"), nil
	})
	return r
}

// Register 注册工具
func (r *FunctionRegistry) Register(tool providers.Tool, handler FunctionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	r.handlers[tool.Name] = handler
}

// GetAllFunctions 获取全部工具定义
func (r *FunctionRegistry) GetAllFunctions() []providers.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]providers.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Execute 执行指定工具
func (r *FunctionRegistry) Execute(name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("工具未注册: %s", name)
	}
	return handler(args)
}
