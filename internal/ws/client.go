package ws

import (
	"encoding/json"
	"time"

	"chathub/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB
	sendBuffer     = 256
)

// Client 是一条活跃连接：每连接一对 read/write goroutine，互不阻塞。
// user 为 nil 表示未认证的访客连接，只读不写。
type Client struct {
	hub    *Hub
	router *Router
	conn   *websocket.Conn
	send   chan []byte
	// done 由 hub 在撤管时关闭；send 本身永不关闭，
	// 这样分发 goroutine 的并发投递不会撞上已关闭的通道。
	done chan struct{}

	user *models.User

	// 连接打开时的会话上下文；0 表示该维度不存在。
	chatID    uint // 群聊会话
	privateID uint // 私聊会话
	channelID uint
	groupID   uint // 当前频道或私聊的 BacklogGroup
}

// UserID 返回连接身份，访客为 0。
func (c *Client) UserID() uint {
	if c.user == nil {
		return 0
	}
	return c.user.ID
}

// sendEvent 只投递给本连接，供错误回执与本地确认使用。
func (c *Client) sendEvent(event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("client event marshal")
		return
	}
	select {
	case <-c.done:
		// 连接已被 hub 撤管，回执直接丢弃
	case c.send <- data:
	default:
		// 缓冲已满，下一次 Publish 会把这个连接清走
	}
}

// readPump 逐条分发入站事件；无论哪条路径退出都会撤销全部订阅。
func (c *Client) readPump() {
	defer func() {
		c.hub.Drop(c)
		_ = c.conn.Close()
		if c.user != nil {
			c.hub.Publish(GlobalPresenceTopic, event("user_offline", fields{"user_pk": c.user.ID}))
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.router.Dispatch(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
