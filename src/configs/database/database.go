package database

import (
	"fmt"

	"am-chat-server/src/configs"
	"am-chat-server/src/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// InitDB 根据配置初始化数据库连接并自动迁移表结构
func InitDB(cfg configs.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "chat.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Dialect)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %v", err)
	}

	if err := gdb.AutoMigrate(
		&models.Chat{},
		&models.Message{},
	); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %v", err)
	}

	db = gdb
	return db, nil
}

// SetDB 注入数据库实例（测试时使用）
func SetDB(gdb *gorm.DB) {
	db = gdb
}

// GetDB 获取全局数据库实例
func GetDB() *gorm.DB {
	return db
}
