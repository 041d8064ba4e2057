package models

import "time"

const (
	GroupKindChannel     = "channel"
	GroupKindPrivateChat = "private_chat"
)

const (
	BacklogKindMessage = "message"
	BacklogKindLog     = "log"
)

const (
	LogActionJoin  = "join"
	LogActionLeave = "leave"
)

// BacklogGroup 是追加式日志的归属容器，随其所有者（频道或私聊）一起创建。
type BacklogGroup struct {
	ID        uint   `gorm:"primaryKey"`
	Kind      string `gorm:"size:20;not null"`
	CreatedAt time.Time
}

// Backlog 是带标签的变体：kind 决定 Message 与 Log 哪一侧存在。
// 排序键为 (CreatedAt, ID)，同组内严格递增。
type Backlog struct {
	ID        uint      `gorm:"primaryKey"`
	GroupID   uint      `gorm:"index:idx_backlog_group_time;not null"`
	Kind      string    `gorm:"size:20;not null"`
	CreatedAt time.Time `gorm:"index:idx_backlog_group_time"`

	Message *Message `gorm:"foreignKey:BacklogID"`
	Log     *Log     `gorm:"foreignKey:BacklogID"`
}

type Message struct {
	ID        uint   `gorm:"primaryKey"`
	BacklogID uint   `gorm:"uniqueIndex;not null"`
	AuthorID  uint   `gorm:"index;not null"`
	Content   string `gorm:"size:1000;not null"`
	EditedAt  *time.Time
}

type Log struct {
	ID           uint   `gorm:"primaryKey"`
	BacklogID    uint   `gorm:"uniqueIndex;not null"`
	Action       string `gorm:"size:20;not null"`
	TriggerID    uint   `gorm:"not null"`
	TargetUserID *uint
}

// Mention 是消息内容派生出的提及列表，随消息创建、编辑时整体重建。
type Mention struct {
	ID        uint `gorm:"primaryKey"`
	BacklogID uint `gorm:"index:idx_mention_backlog_user,unique;not null"`
	UserID    uint `gorm:"index:idx_mention_backlog_user,unique;not null"`
}

// InviteRef 是消息内容派生出的邀请引用列表。
type InviteRef struct {
	ID        uint `gorm:"primaryKey"`
	BacklogID uint `gorm:"index:idx_inviteref_backlog_invite,unique;not null"`
	InviteID  uint `gorm:"index:idx_inviteref_backlog_invite,unique;not null"`
}

type Emote struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:20;not null"`
	CreatedAt time.Time
}

// Reaction 仅在用户集合非空时存在，最后一个用户撤销时整行删除。
type Reaction struct {
	ID        uint   `gorm:"primaryKey"`
	BacklogID uint   `gorm:"index:idx_reaction_backlog_emote,unique;not null"`
	EmoteID   uint   `gorm:"index:idx_reaction_backlog_emote,unique;not null"`
	Users     []User `gorm:"many2many:reaction_users"`
	CreatedAt time.Time
}

// BacklogTracker 是用户在某个 BacklogGroup 上的已读游标，空指针表示从未读过。
type BacklogTracker struct {
	ID             uint `gorm:"primaryKey"`
	UserID         uint `gorm:"index:idx_tracker_user_group,unique;not null"`
	BacklogGroupID uint `gorm:"index:idx_tracker_user_group,unique;not null"`
	LastSeenID     *uint
	LastSeenAt     *time.Time
	UpdatedAt      time.Time
}
