package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"chathub/internal/metrics"
	"chathub/internal/models"
	"chathub/internal/render"
	"chathub/internal/service"

	"github.com/rs/zerolog/log"
)

type fields = map[string]interface{}

// event 构造出站信封 {type:"send_to_JS", action, ...}。
func event(action string, f fields) map[string]interface{} {
	out := map[string]interface{}{"type": "send_to_JS", "action": action}
	for k, v := range f {
		out[k] = v
	}
	return out
}

// inboundEvent 是入站信封 {action, ...}，字段按 action 取用。
type inboundEvent struct {
	Action       string `json:"action"`
	Content      string `json:"content"`
	MessagePk    uint   `json:"messagePk"`
	EmotePk      uint   `json:"emotePk"`
	ObjectType   string `json:"objectType"`
	ObjectPk     uint   `json:"objectPk"`
	FriendshipPk uint   `json:"friendshipPk"`
	FriendPk     uint   `json:"friendPk"`
	Kind         string `json:"kind"`
}

// Router 按 action 分发入站事件：解析行为人与目标会话 → 权限门禁 →
// 持久化变更 → 渲染派生视图 → 发布到对应话题。
// 持久化与广播不在一个事务里：统一先提交后广播，丢失的广播靠重连补读。
type Router struct {
	hub         *Hub
	users       *service.UserService
	chats       *service.ChatService
	backlogs    *service.BacklogService
	reactions   *service.ReactionService
	trackers    *service.TrackerService
	authority   *service.AuthorityService
	friendships *service.FriendshipService
}

func NewRouter(
	hub *Hub,
	users *service.UserService,
	chats *service.ChatService,
	backlogs *service.BacklogService,
	reactions *service.ReactionService,
	trackers *service.TrackerService,
	authority *service.AuthorityService,
	friendships *service.FriendshipService,
) *Router {
	return &Router{
		hub:         hub,
		users:       users,
		chats:       chats,
		backlogs:    backlogs,
		reactions:   reactions,
		trackers:    trackers,
		authority:   authority,
		friendships: friendships,
	}
}

// Dispatch 处理一条入站消息。handler 级错误从不终止连接：
// NotFound 静默丢弃，权限/状态/校验错误只回给发起方；
// 信封不合法或 action 未知属于传输层问题，直接忽略。
func (r *Router) Dispatch(c *Client, raw []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Action == "" {
		return
	}

	var err error
	switch ev.Action {
	case "ping":
		c.sendEvent(event("pong", nil))
		return
	case "requestServerResponse":
		c.sendEvent(event("response", nil))
		return
	case "send-message":
		err = r.handleSendMessage(c, ev)
	case "edit-message":
		err = r.handleEditMessage(c, ev)
	case "delete-backlog":
		err = r.handleDeleteBacklog(c, ev)
	case "react":
		err = r.handleReact(c, ev)
	case "manage-friendship":
		err = r.handleFriendship(c, ev)
	case "mark_as_read":
		err = r.handleMarkAsRead(c)
	default:
		return
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		// 客户端引用了过期状态，丢弃事件而不是断开连接
		log.Debug().Str("action", ev.Action).Uint("user_id", c.UserID()).Msg("dispatch stale reference")
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrNotMessage):
		c.sendEvent(event("error", fields{"reason": err.Error(), "source": ev.Action}))
	default:
		log.Error().Err(err).Str("action", ev.Action).Uint("user_id", c.UserID()).Msg("dispatch")
	}
}

// conversationTopic 返回连接当前会话的广播话题：频道连接用频道话题，
// 私聊连接用会话话题。
func (c *Client) conversationTopic() string {
	if c.channelID != 0 {
		return ChannelTopic(c.channelID)
	}
	return ConversationTopic(c.privateID)
}

func (r *Router) handleSendMessage(c *Client, ev inboundEvent) error {
	if c.user == nil || c.groupID == 0 {
		return service.ErrForbidden
	}

	if c.chatID != 0 {
		if err := r.authority.Require(service.CapCreateMessage, c.UserID(), c.chatID); err != nil {
			return err
		}
		channel, err := r.chats.Channel(c.channelID)
		if err != nil {
			return err
		}
		ok, err := r.authority.CanUseChannel(c.UserID(), *channel)
		if err != nil {
			return err
		}
		if !ok {
			return service.ErrForbidden
		}
		if service.MentionsEveryone(ev.Content) {
			if err := r.authority.Require(service.CapMentionAll, c.UserID(), c.chatID); err != nil {
				return err
			}
		}
	} else {
		ok, err := r.authority.IsPrivateMember(c.UserID(), c.privateID)
		if err != nil {
			return err
		}
		if !ok {
			return service.ErrForbidden
		}
	}

	backlog, mentioned, err := r.backlogs.AppendMessage(c.groupID, c.UserID(), ev.Content)
	if err != nil {
		return err
	}
	metrics.WsMessagesTotal.Inc()

	html, err := render.Message(*backlog, *c.user)
	if err != nil {
		return err
	}
	mentionPks := make([]uint, 0, len(mentioned))
	for _, u := range mentioned {
		mentionPks = append(mentionPks, u.ID)
	}
	r.hub.Publish(c.conversationTopic(), event("create_message", fields{
		"html":     html,
		"pk":       backlog.ID,
		"group_pk": backlog.GroupID,
		"user_pk":  c.UserID(),
		"mentions": mentionPks,
	}))
	for _, u := range mentioned {
		r.hub.Publish(UserTopic(u.ID), event("create_notification", fields{
			"id":       notificationID(backlog.GroupID),
			"modifier": "mention",
		}))
	}

	// 私聊的首条消息把对方的会话从未激活变为可见
	if c.privateID != 0 {
		activated, err := r.chats.ActivateMemberships(c.privateID)
		if err != nil {
			return err
		}
		for _, userID := range activated {
			if userID == c.UserID() {
				continue
			}
			chat, err := r.chats.PrivateChat(c.privateID)
			if err != nil {
				return err
			}
			chatHTML, err := render.PrivateChat(*chat, *c.user)
			if err != nil {
				return err
			}
			r.hub.Publish(UserTopic(userID), event("create_private_chat", fields{
				"html": chatHTML,
				"pk":   chat.ID,
			}))
		}
	}
	return nil
}

func (r *Router) handleEditMessage(c *Client, ev inboundEvent) error {
	if c.user == nil {
		return service.ErrForbidden
	}
	backlog, err := r.backlogs.Get(ev.MessagePk)
	if err != nil {
		return err
	}
	if backlog.Kind != models.BacklogKindMessage || backlog.Message == nil {
		return service.ErrNotMessage
	}
	if err := r.requireMessageControl(c, backlog); err != nil {
		return err
	}

	edited, mentioned, err := r.backlogs.EditMessage(backlog.ID, ev.Content)
	if err != nil {
		return err
	}
	topic, err := r.topicForGroup(edited.GroupID)
	if err != nil {
		return err
	}
	mentionPks := make([]uint, 0, len(mentioned))
	for _, u := range mentioned {
		mentionPks = append(mentionPks, u.ID)
	}
	r.hub.Publish(topic, event("edit_message", fields{
		"pk":       edited.ID,
		"content":  string(render.MessageContent(edited.Message.Content)),
		"mentions": mentionPks,
	}))
	return nil
}

func (r *Router) handleDeleteBacklog(c *Client, ev inboundEvent) error {
	if c.user == nil {
		return service.ErrForbidden
	}
	backlog, err := r.backlogs.Get(ev.ObjectPk)
	if err != nil {
		return err
	}
	if err := r.requireBacklogControl(c, backlog); err != nil {
		return err
	}
	topic, err := r.topicForGroup(backlog.GroupID)
	if err != nil {
		return err
	}
	if err := r.backlogs.Delete(backlog.ID); err != nil {
		return err
	}
	r.hub.Publish(topic, event("delete_backlog", fields{"pk": backlog.ID}))
	return nil
}

func (r *Router) handleReact(c *Client, ev inboundEvent) error {
	if c.user == nil {
		return service.ErrForbidden
	}
	backlog, err := r.backlogs.Get(ev.MessagePk)
	if err != nil {
		return err
	}
	if err := r.requireConversationMember(c, backlog.GroupID); err != nil {
		return err
	}

	result, err := r.reactions.Toggle(backlog.ID, ev.EmotePk, c.UserID())
	if err != nil {
		return err
	}
	topic, errTopic := r.topicForGroup(backlog.GroupID)
	if errTopic != nil {
		return errTopic
	}

	f := fields{
		"reaction_pk": result.Reaction.ID,
		"backlog_pk":  backlog.ID,
		"user_pk":     c.UserID(),
		"count":       result.Count,
	}
	if result.Outcome == service.ReactionCreated {
		var emote models.Emote
		emote, err = r.reactions.Emote(ev.EmotePk)
		if err != nil {
			return err
		}
		html, err := render.Reaction(result.Reaction, emote, result.Count)
		if err != nil {
			return err
		}
		f["html"] = html
	}
	r.hub.Publish(topic, event(result.Outcome.String(), f))
	return nil
}

func (r *Router) handleFriendship(c *Client, ev inboundEvent) error {
	if c.user == nil {
		return service.ErrForbidden
	}
	switch ev.Kind {
	case "send":
		friendship, err := r.friendships.Request(c.UserID(), ev.FriendPk)
		if err != nil {
			return err
		}
		receiver, err := r.users.Get(friendship.ReceiverID)
		if err != nil {
			return err
		}
		htmlForReceiver, err := render.Friendship(*friendship, *c.user)
		if err != nil {
			return err
		}
		htmlForSender, err := render.Friendship(*friendship, *receiver)
		if err != nil {
			return err
		}
		r.hub.Publish(UserTopic(friendship.ReceiverID), event("create_friendship", fields{
			"pk": friendship.ID, "html": htmlForReceiver, "is_receiver": true,
		}))
		r.hub.Publish(UserTopic(friendship.SenderID), event("create_friendship", fields{
			"pk": friendship.ID, "html": htmlForSender, "is_receiver": false,
		}))
		return nil
	case "accept":
		friendship, err := r.friendships.Accept(ev.FriendshipPk, c.UserID())
		if err != nil {
			return err
		}
		r.hub.Publish(UserTopic(friendship.ReceiverID), event("accept_friendship", fields{
			"pk": friendship.ID, "is_receiver": true,
		}))
		r.hub.Publish(UserTopic(friendship.SenderID), event("accept_friendship", fields{
			"pk": friendship.ID, "is_receiver": false,
		}))
		return nil
	case "reject", "cancel", "delete":
		friendship, err := r.friendships.Remove(ev.FriendshipPk, c.UserID())
		if err != nil {
			return err
		}
		r.hub.Publish(UserTopic(friendship.ReceiverID), event("delete_friendship", fields{
			"pk": friendship.ID, "was_receiver": true,
		}))
		r.hub.Publish(UserTopic(friendship.SenderID), event("delete_friendship", fields{
			"pk": friendship.ID, "was_receiver": false,
		}))
		return nil
	default:
		return service.ErrValidation
	}
}

func (r *Router) handleMarkAsRead(c *Client) error {
	if c.user == nil || c.groupID == 0 {
		return service.ErrForbidden
	}
	if err := r.trackers.MarkAllSeen(c.UserID(), c.groupID); err != nil {
		return err
	}
	c.sendEvent(event("mark_as_read", nil))
	c.sendEvent(event("remove_all_notifications", fields{"id": notificationID(c.groupID)}))
	return nil
}

// requireMessageControl：作者可以编辑自己的消息，其余人需要消息管理权限；
// 私聊里只有作者本人可以动自己的消息。
func (r *Router) requireMessageControl(c *Client, backlog *models.Backlog) error {
	if backlog.Message != nil && backlog.Message.AuthorID == c.UserID() {
		return nil
	}
	channel, err := r.chats.ChannelByGroup(backlog.GroupID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return service.ErrForbidden // private chat, not the author
		}
		return err
	}
	return r.authority.Require(service.CapManageMessage, c.UserID(), channel.ChatID)
}

// requireBacklogControl：日志条目只能由消息管理权限删除。
func (r *Router) requireBacklogControl(c *Client, backlog *models.Backlog) error {
	if backlog.Kind == models.BacklogKindMessage {
		return r.requireMessageControl(c, backlog)
	}
	channel, err := r.chats.ChannelByGroup(backlog.GroupID)
	if err != nil {
		return err
	}
	return r.authority.Require(service.CapManageMessage, c.UserID(), channel.ChatID)
}

// requireConversationMember 校验连接身份属于条目所在的会话。
func (r *Router) requireConversationMember(c *Client, groupID uint) error {
	channel, err := r.chats.ChannelByGroup(groupID)
	if err == nil {
		ok, err := r.authority.IsMember(c.UserID(), channel.ChatID)
		if err != nil {
			return err
		}
		if !ok {
			return service.ErrForbidden
		}
		return nil
	}
	if !errors.Is(err, service.ErrNotFound) {
		return err
	}
	chat, err := r.chats.PrivateChatByGroup(groupID)
	if err != nil {
		return err
	}
	ok, err := r.authority.IsPrivateMember(c.UserID(), chat.ID)
	if err != nil {
		return err
	}
	if !ok {
		return service.ErrForbidden
	}
	return nil
}

// topicForGroup 把 BacklogGroup 映射回它的广播话题。
func (r *Router) topicForGroup(groupID uint) (string, error) {
	channel, err := r.chats.ChannelByGroup(groupID)
	if err == nil {
		return ChannelTopic(channel.ID), nil
	}
	if !errors.Is(err, service.ErrNotFound) {
		return "", err
	}
	chat, err := r.chats.PrivateChatByGroup(groupID)
	if err != nil {
		return "", err
	}
	return ConversationTopic(chat.ID), nil
}

// notificationID 与前端未读角标的元素 id 约定保持一致。
func notificationID(groupID uint) string {
	return fmt.Sprintf("backlog-group-%d-unreads", groupID)
}
