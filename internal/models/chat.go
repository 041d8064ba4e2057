package models

import "time"

const (
	ConversationKindGroup   = "group"
	ConversationKindPrivate = "private"
)

// Conversation 是抽象会话实体，群聊与私聊共用它的主键序列，
// conversation:{id} 话题因此全局唯一。
type Conversation struct {
	ID        uint   `gorm:"primaryKey"`
	Kind      string `gorm:"size:20;not null"`
	CreatedAt time.Time
}

type GroupChat struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:50;not null"`
	Description string `gorm:"size:60"`
	OwnerID     uint   `gorm:"index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PrivateChat 的成员集合固定为两人，没有频道，直接持有自己的 BacklogGroup。
type PrivateChat struct {
	ID             uint `gorm:"primaryKey"`
	BacklogGroupID uint `gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time
}

type ChannelCategory struct {
	ID        uint   `gorm:"primaryKey"`
	ChatID    uint   `gorm:"index;not null"`
	Name      string `gorm:"size:30;not null"`
	Order     uint   `gorm:"column:ordering;default:1000000"`
	CreatedAt time.Time
}

type Channel struct {
	ID             uint   `gorm:"primaryKey"`
	ChatID         uint   `gorm:"index;not null"`
	Name           string `gorm:"size:30;not null"`
	Description    string `gorm:"size:60"`
	CategoryID     *uint  `gorm:"index"`
	BacklogGroupID uint   `gorm:"uniqueIndex;not null"`
	Order          uint   `gorm:"column:ordering;default:1000000"`
	CreatedAt      time.Time
}

// Role 的 CanSee/CanUse 为空集表示不设限制，非空集是白名单。
type Role struct {
	ID     uint   `gorm:"primaryKey"`
	ChatID uint   `gorm:"index:idx_role_chat_name,unique;not null"`
	Name   string `gorm:"index:idx_role_chat_name,unique;size:50;not null"`
	Color  string `gorm:"size:7;default:#e0dbd1"`
	// 每个群聊恰有一个基础角色，随群聊创建，群聊存在期间不可删除。
	IsBase bool `gorm:"not null;default:false"`

	CanCreateMessage bool `gorm:"not null;default:true"`
	CanManageMessage bool `gorm:"not null;default:false"`
	CanManageChannel bool `gorm:"not null;default:false"`
	CanManageChat    bool `gorm:"not null;default:false"`
	CanMentionAll    bool `gorm:"not null;default:false"`
	CanKick          bool `gorm:"not null;default:false"`
	CanBan           bool `gorm:"not null;default:false"`
	CanManageInvite  bool `gorm:"not null;default:false"`
	CanManageRole    bool `gorm:"not null;default:false"`

	CanSee []Channel `gorm:"many2many:role_can_see"`
	CanUse []Channel `gorm:"many2many:role_can_use"`

	CreatedAt time.Time
}

type GroupMembership struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index:idx_member_user_chat,unique;not null"`
	ChatID    uint   `gorm:"index:idx_member_user_chat,unique;not null"`
	Nickname  string `gorm:"size:30"`
	Roles     []Role `gorm:"many2many:membership_roles"`
	CreatedAt time.Time
}

type PrivateMembership struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"index:idx_private_user_chat,unique;not null"`
	ChatID uint `gorm:"index:idx_private_user_chat,unique;not null"`
	// Active 表示对方是否打开过这个会话，未激活的会话不出现在侧边栏。
	Active    bool `gorm:"not null;default:false"`
	CreatedAt time.Time
}

type Invite struct {
	ID        uint   `gorm:"primaryKey"`
	ChatID    uint   `gorm:"index;not null"`
	Token     string `gorm:"uniqueIndex;size:64;not null"`
	CreatorID uint   `gorm:"not null"`
	OneTime   bool   `gorm:"not null;default:false"`
	ExpiresAt time.Time
	CreatedAt time.Time
}
