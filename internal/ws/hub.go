package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"chathub/internal/metrics"

	"github.com/rs/zerolog/log"
)

// 话题命名约定：conversation:{id}、channel:{id}、user:{id} 与固定的 global-presence。
const GlobalPresenceTopic = "global-presence"

func ConversationTopic(id uint) string { return fmt.Sprintf("conversation:%d", id) }
func ChannelTopic(id uint) string      { return fmt.Sprintf("channel:%d", id) }
func UserTopic(id uint) string         { return fmt.Sprintf("user:%d", id) }

// Hub 按话题管理在线连接。发布是尽力而为：不确认、不重试，
// 发送缓冲写满的慢连接被当场断开，绝不拖慢同话题的其他订阅者。
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]bool
	clients map[*Client]map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		topics:  make(map[string]map[*Client]bool),
		clients: make(map[*Client]map[string]bool),
	}
}

// Register 纳管一个连接，之后才能订阅话题。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = make(map[string]bool)
	metrics.WsConnections.Inc()
}

// Subscribe 把连接加入话题，未注册或已断开的连接是 no-op。
func (h *Hub) Subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c]
	if !ok {
		return
	}
	subs[topic] = true
	set := h.topics[topic]
	if set == nil {
		set = make(map[*Client]bool)
		h.topics[topic] = set
	}
	set[c] = true
}

// Unsubscribe 把连接移出单个话题。
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.clients[c]; ok {
		delete(subs, topic)
	}
	h.removeFromTopic(c, topic)
}

// Drop 撤掉连接的全部订阅并通知其 write pump 退出。
// 所有断开路径（含异常退出）最终都要走到这里。
func (h *Hub) Drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *Client) {
	subs, ok := h.clients[c]
	if !ok {
		return
	}
	for topic := range subs {
		h.removeFromTopic(c, topic)
	}
	delete(h.clients, c)
	// send 永不关闭：分发 goroutine 可能还在往里投递。
	// 关 done 让 write pump 退出，残留的缓冲消息随之丢弃。
	close(c.done)
	metrics.WsConnections.Dec()
}

func (h *Hub) removeFromTopic(c *Client, topic string) {
	set := h.topics[topic]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// Publish 向话题的每个订阅者投递事件，发布调用顺序即同话题内的投递顺序。
func (h *Hub) Publish(topic string, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("publish marshal")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var stalled []*Client
	for c := range h.topics[topic] {
		select {
		case c.send <- data:
		default:
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		h.dropLocked(c)
	}
	metrics.WsPublishedTotal.WithLabelValues(topic[:topicKindLen(topic)]).Inc()
}

// topicKindLen 取话题的种类前缀（冒号前），global-presence 整串即种类。
func topicKindLen(topic string) int {
	for i := 0; i < len(topic); i++ {
		if topic[i] == ':' {
			return i
		}
	}
	return len(topic)
}

// Online 返回话题当前的订阅连接数。
func (h *Hub) Online(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topics 返回连接当前订阅的话题快照，测试用。
func (h *Hub) Topics(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients[c]))
	for topic := range h.clients[c] {
		out = append(out, topic)
	}
	return out
}
