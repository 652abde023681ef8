// Package mysql opens the database and builds the repositories.
package mysql

import (
	"fmt"

	"astro_chat_server/internal/config"
	"astro_chat_server/internal/dao/mysql/repository"
	"astro_chat_server/internal/model"

	"go.uber.org/zap"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Init connects to MySQL, migrates the schema, seeds default settings
// and returns the repositories together with the *gorm.DB for shutdown.
func Init() (*repository.Repositories, *gorm.DB) {
	conf := config.GetConfig()

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.MysqlConfig.User,
		conf.MysqlConfig.Password,
		conf.MysqlConfig.Host,
		conf.MysqlConfig.Port,
		conf.MysqlConfig.DatabaseName,
	)

	db, err := gorm.Open(mysqldriver.Open(dsn), &gorm.Config{})
	if err != nil {
		zap.L().Fatal("open mysql", zap.Error(err))
	}

	repos, err := Setup(db)
	if err != nil {
		zap.L().Fatal("setup mysql", zap.Error(err))
	}
	return repos, db
}

// Setup migrates every table and inserts missing default settings.
// Shared by Init and the sqlite backed tests.
func Setup(db *gorm.DB) (*repository.Repositories, error) {
	if err := db.AutoMigrate(
		&model.ChatMessage{},
		&model.CallSession{},
		&model.Setting{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	repos := repository.NewRepositories(db)
	if err := repos.Setting.EnsureDefaults(model.DefaultSettings); err != nil {
		return nil, err
	}
	return repos, nil
}
