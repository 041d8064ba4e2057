package service

import (
	"errors"
	"time"

	"chathub/internal/models"

	"gorm.io/gorm"
)

// TrackerService 维护 (用户, BacklogGroup) 的已读游标并计算未读。
type TrackerService struct {
	db        *gorm.DB
	backlogs  *BacklogService
	authority *AuthorityService
}

func NewTrackerService(db *gorm.DB, backlogs *BacklogService, authority *AuthorityService) *TrackerService {
	return &TrackerService{db: db, backlogs: backlogs, authority: authority}
}

// MarkSeen 单调推进游标：目标条目的排序键不高于当前位置时是 no-op。
func (s *TrackerService) MarkSeen(userID, groupID, backlogID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var backlog models.Backlog
		if err := tx.First(&backlog, backlogID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if backlog.GroupID != groupID {
			return ErrNotFound
		}

		var tracker models.BacklogTracker
		err := tx.Where("user_id = ? AND backlog_group_id = ?", userID, groupID).First(&tracker).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			tracker = models.BacklogTracker{UserID: userID, BacklogGroupID: groupID}
			if err := tx.Create(&tracker).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if tracker.LastSeenID != nil {
			seenAt := *tracker.LastSeenAt
			if backlog.CreatedAt.Before(seenAt) {
				return nil
			}
			if backlog.CreatedAt.Equal(seenAt) && backlog.ID <= *tracker.LastSeenID {
				return nil
			}
		}
		return tx.Model(&tracker).Updates(map[string]interface{}{
			"last_seen_id": backlog.ID,
			"last_seen_at": backlog.CreatedAt,
		}).Error
	})
}

// MarkAllSeen 把游标推到组内最新条目，组为空时保持不变。
func (s *TrackerService) MarkAllSeen(userID, groupID uint) error {
	var latest models.Backlog
	err := s.db.Where("group_id = ?", groupID).Order("created_at desc").Order("id desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.MarkSeen(userID, groupID, latest.ID)
}

// Cursor 返回当前游标，从未读过时 LastSeenID 为 nil。
func (s *TrackerService) Cursor(userID, groupID uint) (*models.BacklogTracker, error) {
	var tracker models.BacklogTracker
	err := s.db.Where("user_id = ? AND backlog_group_id = ?", userID, groupID).First(&tracker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.BacklogTracker{UserID: userID, BacklogGroupID: groupID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &tracker, nil
}

// UnreadCount 统计游标之后的条目数。比较用游标存下的排序键，
// 游标指向的条目被删除后计数依旧成立。
func (s *TrackerService) UnreadCount(userID, groupID uint) (int, error) {
	tracker, err := s.Cursor(userID, groupID)
	if err != nil {
		return 0, err
	}
	if tracker.LastSeenID == nil {
		return s.backlogs.CountAfter(groupID, time.Time{}, 0)
	}
	return s.backlogs.CountAfter(groupID, *tracker.LastSeenAt, *tracker.LastSeenID)
}

// UnreadBacklogs 返回游标之后的全部条目。
func (s *TrackerService) UnreadBacklogs(userID, groupID uint) ([]models.Backlog, error) {
	tracker, err := s.Cursor(userID, groupID)
	if err != nil {
		return nil, err
	}
	if tracker.LastSeenID == nil {
		return s.backlogs.ListAfter(groupID, time.Time{}, 0)
	}
	return s.backlogs.ListAfter(groupID, *tracker.LastSeenAt, *tracker.LastSeenID)
}

// AggregateUnread 汇总群聊里成员可见频道的未读总数。
func (s *TrackerService) AggregateUnread(userID, chatID uint) (int, error) {
	channels, err := s.authority.VisibleChannels(userID, chatID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return 0, nil
		}
		return 0, err
	}
	total := 0
	for _, ch := range channels {
		n, err := s.UnreadCount(userID, ch.BacklogGroupID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
