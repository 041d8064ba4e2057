package service

import (
	"errors"

	"chathub/internal/models"

	"gorm.io/gorm"
)

// Capability 标识一项群聊内的布尔权限。
type Capability int

const (
	CapCreateMessage Capability = iota
	CapManageMessage
	CapManageChannel
	CapManageChat
	CapMentionAll
	CapKick
	CapBan
	CapManageInvite
	CapManageRole
)

// Capabilities 是成员全部角色（含基础角色）按位并集后的有效权限。
type Capabilities struct {
	CreateMessage bool
	ManageMessage bool
	ManageChannel bool
	ManageChat    bool
	MentionAll    bool
	Kick          bool
	Ban           bool
	ManageInvite  bool
	ManageRole    bool
}

func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapCreateMessage:
		return c.CreateMessage
	case CapManageMessage:
		return c.ManageMessage
	case CapManageChannel:
		return c.ManageChannel
	case CapManageChat:
		return c.ManageChat
	case CapMentionAll:
		return c.MentionAll
	case CapKick:
		return c.Kick
	case CapBan:
		return c.Ban
	case CapManageInvite:
		return c.ManageInvite
	case CapManageRole:
		return c.ManageRole
	}
	return false
}

func (c *Capabilities) union(r models.Role) {
	c.CreateMessage = c.CreateMessage || r.CanCreateMessage
	c.ManageMessage = c.ManageMessage || r.CanManageMessage
	c.ManageChannel = c.ManageChannel || r.CanManageChannel
	c.ManageChat = c.ManageChat || r.CanManageChat
	c.MentionAll = c.MentionAll || r.CanMentionAll
	c.Kick = c.Kick || r.CanKick
	c.Ban = c.Ban || r.CanBan
	c.ManageInvite = c.ManageInvite || r.CanManageInvite
	c.ManageRole = c.ManageRole || r.CanManageRole
}

// AuthorityService 解析成员在群聊内的有效权限与频道可见性。
type AuthorityService struct {
	db *gorm.DB
}

func NewAuthorityService(db *gorm.DB) *AuthorityService {
	return &AuthorityService{db: db}
}

// memberRoles 加载成员的全部角色并保证基础角色在内，无成员资格时返回 ErrForbidden。
func (s *AuthorityService) memberRoles(userID, chatID uint) ([]models.Role, error) {
	var membership models.GroupMembership
	err := s.db.Preload("Roles").Where("user_id = ? AND chat_id = ?", userID, chatID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	roles := membership.Roles
	hasBase := false
	for _, r := range roles {
		if r.IsBase {
			hasBase = true
			break
		}
	}
	if !hasBase {
		var base models.Role
		if err := s.db.Where("chat_id = ? AND is_base = ?", chatID, true).First(&base).Error; err == nil {
			roles = append(roles, base)
		}
	}
	return roles, nil
}

// EffectivePermissions 返回角色并集；无成员资格时返回零值并 ErrForbidden。
func (s *AuthorityService) EffectivePermissions(userID, chatID uint) (Capabilities, error) {
	roles, err := s.memberRoles(userID, chatID)
	if err != nil {
		return Capabilities{}, err
	}
	var caps Capabilities
	for _, r := range roles {
		caps.union(r)
	}
	return caps, nil
}

// Require 在能力缺失时返回 ErrForbidden，路由层在每个写操作前调用。
func (s *AuthorityService) Require(cap Capability, userID, chatID uint) error {
	caps, err := s.EffectivePermissions(userID, chatID)
	if err != nil {
		return err
	}
	if !caps.Has(cap) {
		return ErrForbidden
	}
	return nil
}

// CanSeeChannel 判断频道对成员是否可见。
// 频道的 can-see 集合为空表示不设限制；非空集合是角色白名单。
func (s *AuthorityService) CanSeeChannel(userID uint, channel models.Channel) (bool, error) {
	return s.channelAllowed(userID, channel, "role_can_see")
}

// CanUseChannel 判断成员能否在频道内发言，空集合同样表示不设限制。
func (s *AuthorityService) CanUseChannel(userID uint, channel models.Channel) (bool, error) {
	return s.channelAllowed(userID, channel, "role_can_use")
}

func (s *AuthorityService) channelAllowed(userID uint, channel models.Channel, joinTable string) (bool, error) {
	roles, err := s.memberRoles(userID, channel.ChatID)
	if err != nil {
		return false, err
	}
	var listed []uint
	if err := s.db.Table(joinTable).Where("channel_id = ?", channel.ID).Pluck("role_id", &listed).Error; err != nil {
		return false, err
	}
	if len(listed) == 0 {
		return true, nil
	}
	allowed := make(map[uint]bool, len(listed))
	for _, id := range listed {
		allowed[id] = true
	}
	for _, r := range roles {
		if allowed[r.ID] {
			return true, nil
		}
	}
	return false, nil
}

// ChannelRestricted 判断频道是否设置了 can-see 白名单，访客只能读不设限的频道。
func (s *AuthorityService) ChannelRestricted(channelID uint) (bool, error) {
	var count int64
	err := s.db.Table("role_can_see").Where("channel_id = ?", channelID).Count(&count).Error
	return count > 0, err
}

// VisibleChannels 返回群聊内成员可见的频道集合。
func (s *AuthorityService) VisibleChannels(userID, chatID uint) ([]models.Channel, error) {
	var channels []models.Channel
	if err := s.db.Where("chat_id = ?", chatID).Order("ordering").Order("id").Find(&channels).Error; err != nil {
		return nil, err
	}
	out := channels[:0]
	for _, ch := range channels {
		ok, err := s.CanSeeChannel(userID, ch)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// IsMember 判断用户是否已是群聊成员。
func (s *AuthorityService) IsMember(userID, chatID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.GroupMembership{}).Where("user_id = ? AND chat_id = ?", userID, chatID).Count(&count).Error
	return count > 0, err
}

// IsPrivateMember 判断用户是否属于某个私聊。
func (s *AuthorityService) IsPrivateMember(userID, chatID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.PrivateMembership{}).Where("user_id = ? AND chat_id = ?", userID, chatID).Count(&count).Error
	return count > 0, err
}
