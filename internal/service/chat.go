package service

import (
	"errors"
	"strings"

	"chathub/internal/models"

	"gorm.io/gorm"
)

const (
	BaseRoleName        = "everyone"
	DefaultCategoryName = "Text Channels"
	DefaultChannelName  = "general"
)

// ChatService 负责会话实体图的构造：群聊、私聊、频道、成员资格。
// 每个工厂在单个事务里建出满足全部不变量的实体图，取代隐式生命周期钩子。
type ChatService struct {
	db *gorm.DB
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

// GroupChatGraph 是 CreateGroupChat 建出的完整实体图。
type GroupChatGraph struct {
	Chat            models.GroupChat
	BaseRole        models.Role
	OwnerMembership models.GroupMembership
	DefaultCategory models.ChannelCategory
	DefaultChannel  models.Channel
}

// CreateGroupChat 一次建出群聊、基础角色、群主成员资格、默认分类、
// 默认频道及其 BacklogGroup，并为群主留下空游标（未读）。
func (s *ChatService) CreateGroupChat(ownerID uint, name string) (*GroupChatGraph, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return nil, ErrValidation
	}

	var graph GroupChatGraph
	err := s.db.Transaction(func(tx *gorm.DB) error {
		conv := models.Conversation{Kind: models.ConversationKindGroup}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		graph.Chat = models.GroupChat{ID: conv.ID, Name: name, OwnerID: ownerID}
		if err := tx.Create(&graph.Chat).Error; err != nil {
			return err
		}
		graph.BaseRole = models.Role{ChatID: graph.Chat.ID, Name: BaseRoleName, IsBase: true, CanCreateMessage: true}
		if err := tx.Create(&graph.BaseRole).Error; err != nil {
			return err
		}
		graph.DefaultCategory = models.ChannelCategory{ChatID: graph.Chat.ID, Name: DefaultCategoryName, Order: 1}
		if err := tx.Create(&graph.DefaultCategory).Error; err != nil {
			return err
		}
		channel, err := createChannel(tx, graph.Chat.ID, DefaultChannelName, &graph.DefaultCategory.ID, 1)
		if err != nil {
			return err
		}
		graph.DefaultChannel = *channel

		membership, err := addMember(tx, graph.Chat.ID, ownerID, graph.BaseRole)
		if err != nil {
			return err
		}
		graph.OwnerMembership = *membership
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &graph, nil
}

// CreateChannel 建频道及其 BacklogGroup，并给每个现有成员留空游标。
func (s *ChatService) CreateChannel(chatID uint, name string, categoryID *uint) (*models.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 30 {
		return nil, ErrValidation
	}
	var out *models.Channel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chat models.GroupChat
		if err := tx.First(&chat, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		channel, err := createChannel(tx, chatID, name, categoryID, 1_000_000)
		if err != nil {
			return err
		}
		var memberships []models.GroupMembership
		if err := tx.Where("chat_id = ?", chatID).Find(&memberships).Error; err != nil {
			return err
		}
		for _, m := range memberships {
			tracker := models.BacklogTracker{UserID: m.UserID, BacklogGroupID: channel.BacklogGroupID}
			if err := tx.Create(&tracker).Error; err != nil {
				return err
			}
		}
		out = channel
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func createChannel(tx *gorm.DB, chatID uint, name string, categoryID *uint, order uint) (*models.Channel, error) {
	group := models.BacklogGroup{Kind: models.GroupKindChannel}
	if err := tx.Create(&group).Error; err != nil {
		return nil, err
	}
	channel := models.Channel{ChatID: chatID, Name: name, CategoryID: categoryID, BacklogGroupID: group.ID, Order: order}
	if err := tx.Create(&channel).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

// PrivateChatGraph 是 CreatePrivateChat 建出的实体图。
type PrivateChatGraph struct {
	Chat        models.PrivateChat
	Memberships [2]models.PrivateMembership
}

// CreatePrivateChat 建私聊、它的 BacklogGroup、两份成员资格和两个空游标。
// 成员资格初始未激活，对方首次收到消息时才出现在侧边栏。
func (s *ChatService) CreatePrivateChat(a, b uint) (*PrivateChatGraph, error) {
	if a == b {
		return nil, ErrValidation
	}
	var graph PrivateChatGraph
	err := s.db.Transaction(func(tx *gorm.DB) error {
		group := models.BacklogGroup{Kind: models.GroupKindPrivateChat}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		conv := models.Conversation{Kind: models.ConversationKindPrivate}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		graph.Chat = models.PrivateChat{ID: conv.ID, BacklogGroupID: group.ID}
		if err := tx.Create(&graph.Chat).Error; err != nil {
			return err
		}
		for i, userID := range [2]uint{a, b} {
			graph.Memberships[i] = models.PrivateMembership{UserID: userID, ChatID: graph.Chat.ID}
			if err := tx.Create(&graph.Memberships[i]).Error; err != nil {
				return err
			}
			tracker := models.BacklogTracker{UserID: userID, BacklogGroupID: group.ID}
			if err := tx.Create(&tracker).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &graph, nil
}

// PrivateChatBetween 返回两人之间的私聊，不存在时建一个。
func (s *ChatService) PrivateChatBetween(a, b uint) (*models.PrivateChat, error) {
	var chat models.PrivateChat
	err := s.db.
		Joins("JOIN private_memberships pm1 ON pm1.chat_id = private_chats.id AND pm1.user_id = ?", a).
		Joins("JOIN private_memberships pm2 ON pm2.chat_id = private_chats.id AND pm2.user_id = ?", b).
		First(&chat).Error
	if err == nil {
		return &chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	graph, err := s.CreatePrivateChat(a, b)
	if err != nil {
		return nil, err
	}
	return &graph.Chat, nil
}

// ActivateMemberships 把私聊双方的成员资格置为激活，返回此前未激活的用户。
func (s *ChatService) ActivateMemberships(chatID uint) ([]uint, error) {
	var inactive []uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var memberships []models.PrivateMembership
		if err := tx.Where("chat_id = ?", chatID).Find(&memberships).Error; err != nil {
			return err
		}
		for _, m := range memberships {
			if m.Active {
				continue
			}
			inactive = append(inactive, m.UserID)
			if err := tx.Model(&models.PrivateMembership{}).Where("id = ?", m.ID).Update("active", true).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inactive, nil
}

// AddMember 建成员资格（持基础角色）、为每个频道组留空游标，
// 并向默认频道追加一条 join 日志。返回日志条目供路由广播。
func (s *ChatService) AddMember(chatID, userID uint) (*models.GroupMembership, *models.Backlog, error) {
	var membership *models.GroupMembership
	var joinLog *models.Backlog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		m, l, err := addMemberGraph(tx, chatID, userID)
		if err != nil {
			return err
		}
		membership, joinLog = m, l
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return membership, joinLog, nil
}

// addMemberGraph 供 InviteService 在自己的兑换事务里复用。
func addMemberGraph(tx *gorm.DB, chatID, userID uint) (*models.GroupMembership, *models.Backlog, error) {
	var count int64
	if err := tx.Model(&models.GroupMembership{}).Where("user_id = ? AND chat_id = ?", userID, chatID).Count(&count).Error; err != nil {
		return nil, nil, err
	}
	if count > 0 {
		return nil, nil, ErrAlreadyExists
	}
	var base models.Role
	if err := tx.Where("chat_id = ? AND is_base = ?", chatID, true).First(&base).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	membership, err := addMember(tx, chatID, userID, base)
	if err != nil {
		return nil, nil, err
	}

	channel, err := defaultChannel(tx, chatID)
	if err != nil {
		return nil, nil, err
	}
	var joinLog models.Backlog
	if err := appendLog(tx, &joinLog, channel.BacklogGroupID, models.LogActionJoin, userID, nil); err != nil {
		return nil, nil, err
	}
	return membership, &joinLog, nil
}

func addMember(tx *gorm.DB, chatID, userID uint, base models.Role) (*models.GroupMembership, error) {
	membership := models.GroupMembership{UserID: userID, ChatID: chatID}
	if err := tx.Create(&membership).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&membership).Association("Roles").Append(&base); err != nil {
		return nil, err
	}
	var channels []models.Channel
	if err := tx.Where("chat_id = ?", chatID).Find(&channels).Error; err != nil {
		return nil, err
	}
	for _, ch := range channels {
		var count int64
		if err := tx.Model(&models.BacklogTracker{}).
			Where("user_id = ? AND backlog_group_id = ?", userID, ch.BacklogGroupID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			continue
		}
		tracker := models.BacklogTracker{UserID: userID, BacklogGroupID: ch.BacklogGroupID}
		if err := tx.Create(&tracker).Error; err != nil {
			return nil, err
		}
	}
	return &membership, nil
}

// RemoveMember 删除成员资格并追加一条 leave 日志；kick 时 trigger 与 target 不同。
func (s *ChatService) RemoveMember(chatID, userID, triggerID uint) (*models.Backlog, error) {
	var leaveLog models.Backlog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var membership models.GroupMembership
		if err := tx.Where("user_id = ? AND chat_id = ?", userID, chatID).First(&membership).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&membership).Association("Roles").Clear(); err != nil {
			return err
		}
		if err := tx.Delete(&membership).Error; err != nil {
			return err
		}
		channel, err := defaultChannel(tx, chatID)
		if err != nil {
			return err
		}
		target := userID
		return appendLog(tx, &leaveLog, channel.BacklogGroupID, models.LogActionLeave, triggerID, &target)
	})
	if err != nil {
		return nil, err
	}
	return &leaveLog, nil
}

// Channel 加载频道并校验归属。
func (s *ChatService) Channel(channelID uint) (*models.Channel, error) {
	var channel models.Channel
	if err := s.db.First(&channel, channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &channel, nil
}

// ChannelByGroup 反查 BacklogGroup 所属的频道，属于私聊时返回 ErrNotFound。
func (s *ChatService) ChannelByGroup(groupID uint) (*models.Channel, error) {
	var channel models.Channel
	err := s.db.Where("backlog_group_id = ?", groupID).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// PrivateChatByGroup 反查 BacklogGroup 所属的私聊。
func (s *ChatService) PrivateChatByGroup(groupID uint) (*models.PrivateChat, error) {
	var chat models.PrivateChat
	err := s.db.Where("backlog_group_id = ?", groupID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// PrivateChat 按主键加载私聊。
func (s *ChatService) PrivateChat(chatID uint) (*models.PrivateChat, error) {
	var chat models.PrivateChat
	if err := s.db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// ListForUser 返回用户加入的全部群聊。
func (s *ChatService) ListForUser(userID uint) ([]models.GroupChat, error) {
	var chats []models.GroupChat
	err := s.db.
		Joins("JOIN group_memberships gm ON gm.chat_id = group_chats.id AND gm.user_id = ?", userID).
		Order("group_chats.id").Find(&chats).Error
	return chats, err
}

// defaultChannel 是群聊内排序最靠前的频道，join/leave 日志写到它的组里。
func defaultChannel(tx *gorm.DB, chatID uint) (*models.Channel, error) {
	var channel models.Channel
	err := tx.Where("chat_id = ?", chatID).Order("ordering").Order("id").First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}
