package models

import (
	"fmt"
	"time"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"index:idx_user_name_tag,unique;size:30;not null"`
	UsernameID   int    `gorm:"index:idx_user_name_tag,unique;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName 返回带两位判别符的展示名，例如 bob#04。
func (u User) FullName() string {
	return fmt.Sprintf("%s#%02d", u.Username, u.UsernameID)
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship 在任意无序用户对之间至多存在一行。
type Friendship struct {
	ID         uint   `gorm:"primaryKey"`
	SenderID   uint   `gorm:"index;not null"`
	ReceiverID uint   `gorm:"index;not null"`
	Status     string `gorm:"size:20;not null"`
	CreatedAt  time.Time
}

// OtherParty 返回好友关系中对方的用户 ID。
func (f Friendship) OtherParty(userID uint) uint {
	if f.SenderID == userID {
		return f.ReceiverID
	}
	return f.SenderID
}
