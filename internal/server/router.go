package server

import (
	"net/http"
	"time"

	"chathub/internal/auth"
	"chathub/internal/config"
	"chathub/internal/metrics"
	"chathub/internal/mw"
	"chathub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, h *Handler, wsRouter *ws.Router) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免风暴把持久层打垮。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats", h.ListChats)
	authed.POST("/chats/:id/channels", h.CreateChannel)
	authed.POST("/chats/:id/invites", h.CreateInvite)
	authed.GET("/chats/:id/unreads", h.UnreadSummary)
	authed.POST("/chats/:id/leave", h.LeaveChat)
	authed.POST("/invites/:token/join", h.JoinByInvite)
	authed.GET("/channels/:id/backlogs", h.ListBacklogs)
	authed.POST("/private-chats", h.OpenPrivateChat)
	authed.GET("/friendships", h.ListFriendships)
	authed.GET("/emotes", h.ListEmotes)

	// WebSocket 在握手阶段自行解析 token，游客可读公开频道。
	r.GET("/ws", wsRouter.Serve(cfg))

	return r
}
