package database

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/pkg/log"
)

var DB *gorm.DB

// InitSQLite 初始化 SQLite 数据库连接并自动建表。
// 整个服务共用一个数据库文件，打开时启用外键约束和 busy_timeout。
func InitSQLite(path string) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Fatal("failed to create database directory", err)
		}
	}

	var err error
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	DB, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// SQLite 单写者模型，限制连接数避免 database is locked
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := DB.AutoMigrate(
		&model.Domain{},
		&model.Task{},
		&model.Paper{},
		&model.VectorMetadata{},
	); err != nil {
		log.Fatal("failed to migrate database schema", err)
	}

	log.Info("SQLite database connected successfully")
}
