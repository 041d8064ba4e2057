package ws

import (
	"net/http"
	"strconv"

	"chathub/internal/auth"
	"chathub/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 /ws 升级请求。连接上下文由查询参数给出：
// channel=ID 打开群聊频道，private=ID 打开私聊，都不带则是仪表盘连接。
// 认证连接额外订阅自己的 user 话题与 global-presence。
func (r *Router) Serve(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := &Client{hub: r.hub, router: r, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

		// 身份由外部签发的 token 提供，没有 token 就是访客
		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c)
		}
		if token != "" {
			claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			user, err := r.users.Get(claims.UserID)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			client.user = user
		}

		if v := c.Query("channel"); v != "" {
			channelID, err := strconv.ParseUint(v, 10, 64)
			if err != nil || channelID == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
				return
			}
			channel, err := r.chats.Channel(uint(channelID))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
				return
			}
			if client.user != nil {
				visible, err := r.authority.CanSeeChannel(client.user.ID, *channel)
				if err != nil || !visible {
					c.JSON(http.StatusForbidden, gin.H{"error": "channel not visible"})
					return
				}
			} else {
				restricted, err := r.authority.ChannelRestricted(channel.ID)
				if err != nil || restricted {
					c.JSON(http.StatusForbidden, gin.H{"error": "channel not visible"})
					return
				}
			}
			client.chatID = channel.ChatID
			client.channelID = channel.ID
			client.groupID = channel.BacklogGroupID
		} else if v := c.Query("private"); v != "" {
			privateID, err := strconv.ParseUint(v, 10, 64)
			if err != nil || privateID == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid private chat"})
				return
			}
			if client.user == nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
				return
			}
			chat, err := r.chats.PrivateChat(uint(privateID))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			member, err := r.authority.IsPrivateMember(client.user.ID, chat.ID)
			if err != nil || !member {
				c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
				return
			}
			client.privateID = chat.ID
			client.groupID = chat.BacklogGroupID
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client.conn = conn

		r.hub.Register(client)
		if client.channelID != 0 {
			r.hub.Subscribe(client, ChannelTopic(client.channelID))
			r.hub.Subscribe(client, ConversationTopic(client.chatID))
		}
		if client.privateID != 0 {
			r.hub.Subscribe(client, ConversationTopic(client.privateID))
		}
		if client.user != nil {
			r.hub.Subscribe(client, UserTopic(client.user.ID))
			r.hub.Subscribe(client, GlobalPresenceTopic)
			r.hub.Publish(GlobalPresenceTopic, event("user_online", fields{"user_pk": client.user.ID}))
		}

		go client.writePump()
		client.readPump()
	}
}
