package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`         // Redis地址
	Password string `yaml:"password" json:"password"` // Redis密码
	DB       int    `yaml:"db" json:"db"`             // Redis数据库
	Service  string `yaml:"service" json:"service"`   // Redis服务名称
}

// DBConfig 数据库配置
type DBConfig struct {
	Dialect string `yaml:"dialect" json:"dialect"` // 数据库类型，可选：postgres/sqlite
	DSN     string `yaml:"dsn" json:"dsn"`         // 数据库连接字符串
}

// LLMConfig LLM配置结构
type LLMConfig struct {
	Type        string  `yaml:"type"        json:"type"`        // LLM类型
	ModelName   string  `yaml:"model_name"  json:"model_name"`  // 模型名称
	BaseURL     string  `yaml:"url"         json:"url"`         // API地址
	APIKey      string  `yaml:"api_key"     json:"api_key"`     // API密钥
	Temperature float64 `yaml:"temperature" json:"temperature"` // 温度参数
	MaxTokens   int     `yaml:"max_tokens"  json:"max_tokens"`  // 最大令牌数
}

// Config 主配置结构
type Config struct {
	Server struct {
		IP    string `yaml:"ip" json:"ip"`
		Port  int    `yaml:"port" json:"port"`
		Token string `yaml:"token" json:"token"`
	} `yaml:"server" json:"server"`

	// 数据库配置
	DB DBConfig `yaml:"db" json:"db"`

	// Redis缓存配置
	RedisCache RedisConfig `yaml:"redis_cache" json:"redis_cache"`

	// 传输层配置
	Transport struct {
		WebSocket struct {
			Enabled bool   `yaml:"enabled" json:"enabled"`
			IP      string `yaml:"ip" json:"ip"`
			Port    int    `yaml:"port" json:"port"`
		} `yaml:"websocket" json:"websocket"`
	} `yaml:"transport" json:"transport"`

	Log struct {
		LogLevel string `yaml:"log_level" json:"log_level"`
		LogDir   string `yaml:"log_dir" json:"log_dir"`
		LogFile  string `yaml:"log_file" json:"log_file"`
	} `yaml:"log" json:"log"`

	Web struct {
		Enabled bool `yaml:"enabled" json:"enabled"`
		Port    int  `yaml:"port" json:"port"`
	} `yaml:"web" json:"web"`

	DefaultPrompt string `yaml:"prompt"        json:"prompt"`
	DialogStorage string `yaml:"dialogStorage" json:"dialogStorage"` // 对话存储类型，可选：postgres/redis
	SelectedLLM   string `yaml:"selected_llm"  json:"selected_llm"`  // 默认使用的LLM配置名

	LLM map[string]LLMConfig `yaml:"LLM" json:"LLM"`
}

var (
	Cfg *Config
)

func (cfg *Config) ToString() string {
	data, _ := yaml.Marshal(cfg)
	return string(data)
}

func (cfg *Config) FromString(data string) error {
	return yaml.Unmarshal([]byte(data), cfg)
}

func (cfg *Config) setDefaults() {
	cfg.Server.IP = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.Token = "your_token"

	cfg.Transport.WebSocket.Enabled = true
	cfg.Transport.WebSocket.IP = "0.0.0.0"
	cfg.Transport.WebSocket.Port = 8000

	cfg.Web.Enabled = true
	cfg.Web.Port = 8080

	cfg.DB.Dialect = "sqlite"
	cfg.DB.DSN = "chat.db"
	cfg.DialogStorage = "postgres"

	cfg.Log.LogDir = "logs"
	cfg.Log.LogLevel = "INFO"
	cfg.Log.LogFile = "server.log"
}

// 从config.yaml加载
func LoadConfig() (*Config, string, error) {
	config := &Config{}
	path := "config.yaml"

	data, err := os.ReadFile(path)
	if err != nil {
		// 读取配置文件失败，使用默认配置
		config.setDefaults()
		data, _ = yaml.Marshal(config)
	} else {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, path, err
		}
	}

	Cfg = config
	return config, path, nil
}
