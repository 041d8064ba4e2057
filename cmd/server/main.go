package main

import (
	"chathub/internal/config"
	"chathub/internal/db"
	clog "chathub/internal/log"
	"chathub/internal/server"
	"chathub/internal/service"
	"chathub/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	if err := db.SeedEmotes(gdb); err != nil {
		log.Fatal().Err(err).Msg("db seed emotes")
	}

	hub := ws.NewHub()

	users := service.NewUserService(gdb, cfg)
	chats := service.NewChatService(gdb)
	backlogs := service.NewBacklogService(gdb)
	reactions := service.NewReactionService(gdb)
	authority := service.NewAuthorityService(gdb)
	trackers := service.NewTrackerService(gdb, backlogs, authority)
	friendships := service.NewFriendshipService(gdb)
	invites := service.NewInviteService(gdb, chats)

	wsRouter := ws.NewRouter(hub, users, chats, backlogs, reactions, trackers, authority, friendships)
	handler := server.NewHandler(cfg, hub, users, chats, backlogs, reactions, trackers, authority, friendships, invites)

	r := server.SetupRouter(cfg, gdb, handler, wsRouter)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
