package service

import (
	"errors"
	"time"

	"chathub/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// InviteService 管理群聊邀请：不可猜测的目录 token、过期与一次性消费。
type InviteService struct {
	db    *gorm.DB
	chats *ChatService
}

func NewInviteService(db *gorm.DB, chats *ChatService) *InviteService {
	return &InviteService{db: db, chats: chats}
}

// Create 为群聊签发一个邀请 token。
func (s *InviteService) Create(chatID, creatorID uint, ttl time.Duration, oneTime bool) (*models.Invite, error) {
	var chat models.GroupChat
	if err := s.db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	invite := models.Invite{
		ChatID:    chatID,
		Token:     uuid.NewString(),
		CreatorID: creatorID,
		OneTime:   oneTime,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.db.Create(&invite).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// Lookup 按 token 查找未过期的邀请，过期的当场清掉并按不存在处理。
func (s *InviteService) Lookup(token string) (*models.Invite, error) {
	var invite models.Invite
	err := s.db.Where("token = ?", token).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(invite.ExpiresAt) {
		if err := s.db.Delete(&invite).Error; err != nil {
			log.Warn().Err(err).Uint("invite_id", invite.ID).Msg("expired invite cleanup")
		}
		return nil, ErrNotFound
	}
	return &invite, nil
}

// Redeem 兑换邀请：查找、建成员资格与一次性消费在同一个事务里完成。
// 一次性邀请用带守卫的删除消费，删到行的那次兑换才算赢，并发兑换只有一人入群。
// 返回加入日志条目供路由广播到群聊话题。
func (s *InviteService) Redeem(token string, userID uint) (*models.GroupMembership, *models.Backlog, error) {
	var membership *models.GroupMembership
	var joinLog *models.Backlog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var invite models.Invite
		if err := tx.Where("token = ?", token).First(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if time.Now().After(invite.ExpiresAt) {
			return ErrNotFound
		}
		if invite.OneTime {
			res := tx.Where("id = ?", invite.ID).Delete(&models.Invite{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		m, l, err := addMemberGraph(tx, invite.ChatID, userID)
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
