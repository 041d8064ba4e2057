package service

import (
	"errors"
	"sync"

	"chathub/internal/models"

	"gorm.io/gorm"
)

// ToggleOutcome 描述一次反应切换落在哪种结果上。
type ToggleOutcome int

const (
	// ReactionCreated 首个用户对 (条目, 表情) 做出反应，新建了反应行。
	ReactionCreated ToggleOutcome = iota
	// ReactionAdded 用户加入了已有反应的用户集合。
	ReactionAdded
	// ReactionRemoved 用户退出但集合里还有别人。
	ReactionRemoved
	// ReactionDeleted 最后一个用户退出，反应行被整体删除。
	ReactionDeleted
)

func (o ToggleOutcome) String() string {
	switch o {
	case ReactionCreated:
		return "create_reaction"
	case ReactionAdded:
		return "add_reaction"
	case ReactionRemoved:
		return "remove_reaction"
	case ReactionDeleted:
		return "delete_reaction"
	}
	return "unknown"
}

const reactionShards = 64

// ReactionService 以 (backlog, emote) 为粒度串行化切换，避免并发丢更新。
type ReactionService struct {
	db    *gorm.DB
	locks [reactionShards]sync.Mutex
}

func NewReactionService(db *gorm.DB) *ReactionService {
	return &ReactionService{db: db}
}

func (s *ReactionService) lockFor(backlogID, emoteID uint) *sync.Mutex {
	h := backlogID*31 + emoteID
	return &s.locks[h%reactionShards]
}

// ToggleResult 带回切换后的反应行（删除时为删除前的行）与结果种类。
type ToggleResult struct {
	Outcome  ToggleOutcome
	Reaction models.Reaction
	// Count 为切换后的用户数。
	Count int
}

// Toggle 对 (条目, 表情, 用户) 做出现/消失切换，四种结果见 ToggleOutcome。
func (s *ReactionService) Toggle(backlogID, emoteID, userID uint) (*ToggleResult, error) {
	mu := s.lockFor(backlogID, emoteID)
	mu.Lock()
	defer mu.Unlock()

	var result ToggleResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var backlog models.Backlog
		if err := tx.First(&backlog, backlogID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var emote models.Emote
		if err := tx.First(&emote, emoteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var reaction models.Reaction
		err := tx.Where("backlog_id = ? AND emote_id = ?", backlogID, emoteID).First(&reaction).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			reaction = models.Reaction{BacklogID: backlogID, EmoteID: emoteID}
			if err := tx.Create(&reaction).Error; err != nil {
				return err
			}
			if err := tx.Model(&reaction).Association("Users").Append(&user); err != nil {
				return err
			}
			result = ToggleResult{Outcome: ReactionCreated, Reaction: reaction, Count: 1}
			return nil
		}
		if err != nil {
			return err
		}

		count := tx.Model(&reaction).Association("Users").Count()
		var member int64
		if err := tx.Table("reaction_users").
			Where("reaction_id = ? AND user_id = ?", reaction.ID, userID).
			Count(&member).Error; err != nil {
			return err
		}

		if member == 0 {
			if err := tx.Model(&reaction).Association("Users").Append(&user); err != nil {
				return err
			}
			result = ToggleResult{Outcome: ReactionAdded, Reaction: reaction, Count: int(count) + 1}
			return nil
		}

		if err := tx.Model(&reaction).Association("Users").Delete(&user); err != nil {
			return err
		}
		if count-1 <= 0 {
			if err := tx.Delete(&reaction).Error; err != nil {
				return err
			}
			result = ToggleResult{Outcome: ReactionDeleted, Reaction: reaction, Count: 0}
			return nil
		}
		result = ToggleResult{Outcome: ReactionRemoved, Reaction: reaction, Count: int(count) - 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Emote 按主键查表情。
func (s *ReactionService) Emote(id uint) (models.Emote, error) {
	var emote models.Emote
	if err := s.db.First(&emote, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emote, ErrNotFound
		}
		return emote, err
	}
	return emote, nil
}

// Emotes 返回全部可用表情。
func (s *ReactionService) Emotes() ([]models.Emote, error) {
	var emotes []models.Emote
	err := s.db.Order("id").Find(&emotes).Error
	return emotes, err
}

// Users 返回反应当前的用户集合。
func (s *ReactionService) Users(reactionID uint) ([]models.User, error) {
	reaction := models.Reaction{ID: reactionID}
	var users []models.User
	if err := s.db.Model(&reaction).Association("Users").Find(&users); err != nil {
		return nil, err
	}
	return users, nil
}
