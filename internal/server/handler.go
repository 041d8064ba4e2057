package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chathub/internal/auth"
	"chathub/internal/config"
	"chathub/internal/models"
	"chathub/internal/render"
	"chathub/internal/service"
	"chathub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合 REST handler，依赖注入 service 层与连接注册表。
type Handler struct {
	cfg         config.Config
	hub         *ws.Hub
	users       *service.UserService
	chats       *service.ChatService
	backlogs    *service.BacklogService
	reactions   *service.ReactionService
	trackers    *service.TrackerService
	authority   *service.AuthorityService
	friendships *service.FriendshipService
	invites     *service.InviteService
}

func NewHandler(
	cfg config.Config,
	hub *ws.Hub,
	users *service.UserService,
	chats *service.ChatService,
	backlogs *service.BacklogService,
	reactions *service.ReactionService,
	trackers *service.TrackerService,
	authority *service.AuthorityService,
	friendships *service.FriendshipService,
	invites *service.InviteService,
) *Handler {
	return &Handler{
		cfg:         cfg,
		hub:         hub,
		users:       users,
		chats:       chats,
		backlogs:    backlogs,
		reactions:   reactions,
		trackers:    trackers,
		authority:   authority,
		friendships: friendships,
		invites:     invites,
	}
}

// abortServiceErr 把业务错误映射到 HTTP 状态码。
func abortServiceErr(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	default:
		log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 2 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.users.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.Login(strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username, "full_name": result.User.FullName()},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateChat 建群聊并返回工厂建出的完整实体图。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	graph, err := h.chats.CreateGroupChat(auth.GetUserID(c), req.Name)
	if err != nil {
		abortServiceErr(c, err, "create chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":            gin.H{"id": graph.Chat.ID, "name": graph.Chat.Name},
		"base_role":       gin.H{"id": graph.BaseRole.ID, "name": graph.BaseRole.Name},
		"default_channel": gin.H{"id": graph.DefaultChannel.ID, "name": graph.DefaultChannel.Name},
	})
}

// ListChats 返回用户的群聊列表，带聚合未读数。
func (h *Handler) ListChats(c *gin.Context) {
	userID := auth.GetUserID(c)
	chats, err := h.chats.ListForUser(userID)
	if err != nil {
		abortServiceErr(c, err, "list chats")
		return
	}
	type chatDTO struct {
		ID     uint   `json:"id"`
		Name   string `json:"name"`
		Unread int    `json:"unread"`
		Online int    `json:"online"`
	}
	out := make([]chatDTO, 0, len(chats))
	for _, chat := range chats {
		unread, err := h.trackers.AggregateUnread(userID, chat.ID)
		if err != nil {
			abortServiceErr(c, err, "aggregate unread")
			return
		}
		out = append(out, chatDTO{ID: chat.ID, Name: chat.Name, Unread: unread, Online: h.hub.Online(ws.ConversationTopic(chat.ID))})
	}
	c.JSON(http.StatusOK, gin.H{"chats": out})
}

// CreateChannel 在群聊里开新频道，需要频道管理权限。
func (h *Handler) CreateChannel(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name       string `json:"name"`
		CategoryID *uint  `json:"category_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.authority.Require(service.CapManageChannel, auth.GetUserID(c), chatID); err != nil {
		abortServiceErr(c, err, "create channel")
		return
	}
	channel, err := h.chats.CreateChannel(chatID, req.Name, req.CategoryID)
	if err != nil {
		abortServiceErr(c, err, "create channel")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": channel.ID, "name": channel.Name, "backlog_group_id": channel.BacklogGroupID})
}

// CreateInvite 签发邀请 token，需要邀请管理权限。
func (h *Handler) CreateInvite(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		OneTime bool `json:"one_time"`
	}
	_ = c.ShouldBindJSON(&req)
	userID := auth.GetUserID(c)
	if err := h.authority.Require(service.CapManageInvite, userID, chatID); err != nil {
		abortServiceErr(c, err, "create invite")
		return
	}
	invite, err := h.invites.Create(chatID, userID, time.Duration(h.cfg.InviteTTLHours)*time.Hour, req.OneTime)
	if err != nil {
		abortServiceErr(c, err, "create invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": invite.Token, "expires_at": invite.ExpiresAt, "one_time": invite.OneTime})
}

// JoinByInvite 兑换邀请加入群聊，并把 join 日志广播到群聊话题。
func (h *Handler) JoinByInvite(c *gin.Context) {
	userID := auth.GetUserID(c)
	membership, joinLog, err := h.invites.Redeem(c.Param("token"), userID)
	if err != nil {
		abortServiceErr(c, err, "join by invite")
		return
	}
	user, err := h.users.Get(userID)
	if err != nil {
		abortServiceErr(c, err, "join by invite")
		return
	}
	if html, err := render.Log(*joinLog, *user); err == nil {
		h.hub.Publish(ws.ConversationTopic(membership.ChatID), map[string]interface{}{
			"type": "send_to_JS", "action": "create_log",
			"html": html, "pk": joinLog.ID, "group_pk": joinLog.GroupID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": membership.ChatID})
}

// LeaveChat 退出群聊并广播 leave 日志。
func (h *Handler) LeaveChat(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	leaveLog, err := h.chats.RemoveMember(chatID, userID, userID)
	if err != nil {
		abortServiceErr(c, err, "leave chat")
		return
	}
	user, err := h.users.Get(userID)
	if err != nil {
		abortServiceErr(c, err, "leave chat")
		return
	}
	if html, err := render.Log(*leaveLog, *user); err == nil {
		h.hub.Publish(ws.ConversationTopic(chatID), map[string]interface{}{
			"type": "send_to_JS", "action": "create_log",
			"html": html, "pk": leaveLog.ID, "group_pk": leaveLog.GroupID,
		})
	}
	c.Status(http.StatusNoContent)
}

// ListBacklogs 分页返回频道时间轴，重连后的补读也走这里。
func (h *Handler) ListBacklogs(c *gin.Context) {
	channelID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	channel, err := h.chats.Channel(channelID)
	if err != nil {
		abortServiceErr(c, err, "list backlogs")
		return
	}
	visible, err := h.authority.CanSeeChannel(userID, *channel)
	if err != nil {
		abortServiceErr(c, err, "list backlogs")
		return
	}
	if !visible {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uint
	if v, err := strconv.Atoi(c.Query("before_id")); err == nil && v > 0 {
		beforeID = uint(v)
	}
	var entries []models.Backlog
	if v, err := strconv.Atoi(c.Query("after_id")); err == nil && v > 0 {
		entries, err = h.backlogs.ListSince(channel.BacklogGroupID, uint(v))
		if err != nil {
			abortServiceErr(c, err, "list backlogs")
			return
		}
	} else {
		entries, err = h.backlogs.List(channel.BacklogGroupID, limit, beforeID)
		if err != nil {
			abortServiceErr(c, err, "list backlogs")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"backlogs": h.backlogDTOs(entries)})
}

type backlogDTO struct {
	Pk        uint      `json:"pk"`
	Kind      string    `json:"kind"`
	AuthorPk  uint      `json:"author_pk,omitempty"`
	Content   string    `json:"content,omitempty"`
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) backlogDTOs(entries []models.Backlog) []backlogDTO {
	out := make([]backlogDTO, 0, len(entries))
	for _, e := range entries {
		dto := backlogDTO{Pk: e.ID, Kind: e.Kind, CreatedAt: e.CreatedAt}
		switch {
		case e.Kind == models.BacklogKindMessage && e.Message != nil:
			dto.AuthorPk = e.Message.AuthorID
			dto.Content = e.Message.Content
		case e.Kind == models.BacklogKindLog && e.Log != nil:
			dto.Action = e.Log.Action
			dto.AuthorPk = e.Log.TriggerID
		}
		out = append(out, dto)
	}
	return out
}

// UnreadSummary 返回群聊内每个可见频道的未读数。
func (h *Handler) UnreadSummary(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	channels, err := h.authority.VisibleChannels(userID, chatID)
	if err != nil {
		abortServiceErr(c, err, "unread summary")
		return
	}
	type unreadDTO struct {
		ChannelID uint `json:"channel_id"`
		Unread    int  `json:"unread"`
	}
	out := make([]unreadDTO, 0, len(channels))
	total := 0
	for _, ch := range channels {
		n, err := h.trackers.UnreadCount(userID, ch.BacklogGroupID)
		if err != nil {
			abortServiceErr(c, err, "unread summary")
			return
		}
		out = append(out, unreadDTO{ChannelID: ch.ID, Unread: n})
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"channels": out, "total": total})
}

// OpenPrivateChat 打开（或复用）与某用户的私聊。
func (h *Handler) OpenPrivateChat(c *gin.Context) {
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	if _, err := h.users.Get(req.UserID); err != nil {
		abortServiceErr(c, err, "open private chat")
		return
	}
	chat, err := h.chats.PrivateChatBetween(userID, req.UserID)
	if err != nil {
		abortServiceErr(c, err, "open private chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": chat.ID, "backlog_group_id": chat.BacklogGroupID})
}

// ListFriendships 返回用户全部好友关系。
func (h *Handler) ListFriendships(c *gin.Context) {
	userID := auth.GetUserID(c)
	list, err := h.friendships.ListFor(userID)
	if err != nil {
		abortServiceErr(c, err, "list friendships")
		return
	}
	type friendshipDTO struct {
		ID       uint   `json:"id"`
		Status   string `json:"status"`
		OtherPk  uint   `json:"other_pk"`
		IsSender bool   `json:"is_sender"`
	}
	out := make([]friendshipDTO, 0, len(list))
	for _, f := range list {
		out = append(out, friendshipDTO{ID: f.ID, Status: f.Status, OtherPk: f.OtherParty(userID), IsSender: f.SenderID == userID})
	}
	c.JSON(http.StatusOK, gin.H{"friendships": out})
}

// ListEmotes 返回可用表情。
func (h *Handler) ListEmotes(c *gin.Context) {
	emotes, err := h.reactions.Emotes()
	if err != nil {
		abortServiceErr(c, err, "list emotes")
		return
	}
	c.JSON(http.StatusOK, gin.H{"emotes": emotes})
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}
