package db

import (
	"time"

	"chathub/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 建立到 Postgres 的连接，带重试等待数据库容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(500+attempt*200) * time.Millisecond)
		}
		gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			lastErr = err
			continue
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			lastErr = err
			continue
		}
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
		return gdb, nil
	}
	return nil, lastErr
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Friendship{},
		&models.Conversation{},
		&models.GroupChat{},
		&models.PrivateChat{},
		&models.ChannelCategory{},
		&models.Channel{},
		&models.Role{},
		&models.GroupMembership{},
		&models.PrivateMembership{},
		&models.Invite{},
		&models.BacklogGroup{},
		&models.Backlog{},
		&models.Message{},
		&models.Log{},
		&models.Mention{},
		&models.InviteRef{},
		&models.Emote{},
		&models.Reaction{},
		&models.BacklogTracker{},
	)
}

// 默认表情集，空表时种入。
var defaultEmotes = []string{"thumbsup", "thumbsdown", "heart", "joy", "eyes", "tada"}

// SeedEmotes 幂等地写入默认表情。
func SeedEmotes(gdb *gorm.DB) error {
	for _, name := range defaultEmotes {
		emote := models.Emote{Name: name}
		if err := gdb.Where("name = ?", name).FirstOrCreate(&emote).Error; err != nil {
			return err
		}
	}
	return nil
}
