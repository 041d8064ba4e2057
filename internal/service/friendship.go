package service

import (
	"errors"

	"chathub/internal/models"

	"gorm.io/gorm"
)

// FriendshipService 实现 None/Pending/Accepted 三态的好友状态机。
type FriendshipService struct {
	db *gorm.DB
}

func NewFriendshipService(db *gorm.DB) *FriendshipService {
	return &FriendshipService{db: db}
}

// Between 查找无序用户对之间的好友关系。
func (s *FriendshipService) Between(a, b uint) (*models.Friendship, error) {
	var f models.Friendship
	err := s.db.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Get 按主键加载好友关系。
func (s *FriendshipService) Get(id uint) (*models.Friendship, error) {
	var f models.Friendship
	if err := s.db.First(&f, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Request 发起好友请求：None → Pending。已有 Pending 或 Accepted 时返回 ErrAlreadyExists。
func (s *FriendshipService) Request(senderID, receiverID uint) (*models.Friendship, error) {
	if senderID == receiverID {
		return nil, ErrValidation
	}
	var out *models.Friendship
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var receiver models.User
		if err := tx.First(&receiver, receiverID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var count int64
		if err := tx.Model(&models.Friendship{}).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				senderID, receiverID, receiverID, senderID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		f := models.Friendship{SenderID: senderID, ReceiverID: receiverID, Status: models.FriendshipPending}
		if err := tx.Create(&f).Error; err != nil {
			return err
		}
		out = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Accept 只有非发起方可以把 Pending 推进到 Accepted。
func (s *FriendshipService) Accept(friendshipID, userID uint) (*models.Friendship, error) {
	var out *models.Friendship
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var f models.Friendship
		if err := tx.First(&f, friendshipID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if f.Status != models.FriendshipPending {
			return ErrInvalidTransition
		}
		if f.ReceiverID != userID {
			return ErrInvalidTransition
		}
		if err := tx.Model(&f).Update("status", models.FriendshipAccepted).Error; err != nil {
			return err
		}
		f.Status = models.FriendshipAccepted
		out = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove 覆盖 reject/cancel/unfriend：Pending 或 Accepted → None，删除整行。
// 只有关系双方可以调用。
func (s *FriendshipService) Remove(friendshipID, userID uint) (*models.Friendship, error) {
	var out *models.Friendship
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var f models.Friendship
		if err := tx.First(&f, friendshipID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if f.SenderID != userID && f.ReceiverID != userID {
			return ErrForbidden
		}
		if err := tx.Delete(&f).Error; err != nil {
			return err
		}
		out = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListFor 返回用户参与的全部好友关系。
func (s *FriendshipService) ListFor(userID uint) ([]models.Friendship, error) {
	var out []models.Friendship
	err := s.db.Where("sender_id = ? OR receiver_id = ?", userID, userID).Order("id").Find(&out).Error
	return out, err
}
