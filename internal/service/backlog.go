package service

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"chathub/internal/models"

	"gorm.io/gorm"
)

const maxMessageLen = 1000

// BacklogService 封装追加式日志的全部操作：追加、编辑、删除与游标读取。
type BacklogService struct {
	db *gorm.DB
}

func NewBacklogService(db *gorm.DB) *BacklogService {
	return &BacklogService{db: db}
}

var (
	mentionRe   = regexp.MustCompile(`>>([A-Za-z0-9_]+)#([0-9]{2})`)
	inviteRefRe = regexp.MustCompile(`>>invite:([A-Za-z0-9-]+)`)
)

// MentionsEveryone 判断内容是否包含全体提及标记，路由层据此要求 CanMentionAll。
func MentionsEveryone(content string) bool {
	return strings.Contains(content, ">>everyone")
}

// AppendMessage 在一个事务内写入 backlog 行、message 行以及派生的提及/邀请引用，
// 返回带 Message 的条目和被提及的用户列表。
func (s *BacklogService) AppendMessage(groupID, authorID uint, content string) (*models.Backlog, []models.User, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxMessageLen {
		return nil, nil, ErrValidation
	}

	var backlog models.Backlog
	var mentioned []models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var group models.BacklogGroup
		if err := tx.First(&group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		backlog = models.Backlog{GroupID: groupID, Kind: models.BacklogKindMessage}
		if err := tx.Create(&backlog).Error; err != nil {
			return err
		}
		msg := models.Message{BacklogID: backlog.ID, AuthorID: authorID, Content: content}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		backlog.Message = &msg

		var err error
		mentioned, err = rebuildDerived(tx, backlog.ID, content)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &backlog, mentioned, nil
}

// AppendLog 追加一条系统日志（加入/离开）。
func (s *BacklogService) AppendLog(groupID uint, action string, triggerID uint, targetID *uint) (*models.Backlog, error) {
	var backlog models.Backlog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return appendLog(tx, &backlog, groupID, action, triggerID, targetID)
	})
	if err != nil {
		return nil, err
	}
	return &backlog, nil
}

// appendLog 供 ChatService 在自己的事务里复用。
func appendLog(tx *gorm.DB, out *models.Backlog, groupID uint, action string, triggerID uint, targetID *uint) error {
	*out = models.Backlog{GroupID: groupID, Kind: models.BacklogKindLog}
	if err := tx.Create(out).Error; err != nil {
		return err
	}
	entry := models.Log{BacklogID: out.ID, Action: action, TriggerID: triggerID, TargetUserID: targetID}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	out.Log = &entry
	return nil
}

// EditMessage 就地修改消息内容并重建派生数据，排序键与所属组保持不变。
func (s *BacklogService) EditMessage(backlogID uint, content string) (*models.Backlog, []models.User, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxMessageLen {
		return nil, nil, ErrValidation
	}

	var backlog models.Backlog
	var mentioned []models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Message").First(&backlog, backlogID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if backlog.Kind != models.BacklogKindMessage || backlog.Message == nil {
			return ErrNotMessage
		}
		now := time.Now()
		if err := tx.Model(backlog.Message).Updates(map[string]interface{}{"content": content, "edited_at": now}).Error; err != nil {
			return err
		}
		backlog.Message.Content = content
		backlog.Message.EditedAt = &now

		var err error
		mentioned, err = rebuildDerived(tx, backlog.ID, content)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &backlog, mentioned, nil
}

// Delete 删除条目并级联清理反应、提及与邀请引用。
func (s *BacklogService) Delete(backlogID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var backlog models.Backlog
		if err := tx.First(&backlog, backlogID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var reactions []models.Reaction
		if err := tx.Where("backlog_id = ?", backlogID).Find(&reactions).Error; err != nil {
			return err
		}
		for i := range reactions {
			if err := tx.Model(&reactions[i]).Association("Users").Clear(); err != nil {
				return err
			}
		}
		for _, m := range []interface{}{&models.Reaction{}, &models.Mention{}, &models.InviteRef{}, &models.Message{}, &models.Log{}} {
			if err := tx.Where("backlog_id = ?", backlogID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&backlog).Error
	})
}

// Get 加载单个条目及其变体侧。
func (s *BacklogService) Get(backlogID uint) (*models.Backlog, error) {
	var backlog models.Backlog
	err := s.db.Preload("Message").Preload("Log").First(&backlog, backlogID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &backlog, nil
}

// ListSince 返回组内严格位于 afterID 之后的条目，afterID 为 0 时返回全部。
// 排序键是 (created_at, id)，与追加顺序一致。
func (s *BacklogService) ListSince(groupID, afterID uint) ([]models.Backlog, error) {
	if afterID == 0 {
		return s.ListAfter(groupID, time.Time{}, 0)
	}
	var after models.Backlog
	if err := s.db.First(&after, afterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if after.GroupID != groupID {
		return nil, ErrNotFound
	}
	return s.ListAfter(groupID, after.CreatedAt, after.ID)
}

// ListAfter 直接按排序键 (at, id) 取之后的条目。键来自已存下的游标，
// 锚点条目本身被删除后依旧有效。
func (s *BacklogService) ListAfter(groupID uint, at time.Time, id uint) ([]models.Backlog, error) {
	q := s.db.Where("group_id = ?", groupID)
	if id > 0 {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", at, at, id)
	}
	var out []models.Backlog
	if err := q.Order("created_at").Order("id").Preload("Message").Preload("Log").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountSince 只统计 afterID 之后的条目数。
func (s *BacklogService) CountSince(groupID, afterID uint) (int, error) {
	if afterID == 0 {
		return s.CountAfter(groupID, time.Time{}, 0)
	}
	var after models.Backlog
	if err := s.db.First(&after, afterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return s.CountAfter(groupID, after.CreatedAt, after.ID)
}

// CountAfter 按排序键统计之后的条目数，供未读计数使用。
func (s *BacklogService) CountAfter(groupID uint, at time.Time, id uint) (int, error) {
	q := s.db.Model(&models.Backlog{}).Where("group_id = ?", groupID)
	if id > 0 {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", at, at, id)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// List 按排序键倒序分页，返回时反转为升序，供初始同步使用。
func (s *BacklogService) List(groupID uint, limit int, beforeID uint) ([]models.Backlog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Where("group_id = ?", groupID)
	if beforeID > 0 {
		var before models.Backlog
		if err := s.db.First(&before, beforeID).Error; err == nil {
			q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", before.CreatedAt, before.CreatedAt, before.ID)
		}
	}
	var out []models.Backlog
	if err := q.Order("created_at desc").Order("id desc").Limit(limit).Preload("Message").Preload("Log").Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Mentions 返回条目当前的提及用户。
func (s *BacklogService) Mentions(backlogID uint) ([]models.User, error) {
	return mentionedUsers(s.db, backlogID)
}

// rebuildDerived 重建条目的提及与邀请引用行，编辑消息时旧行整体替换。
func rebuildDerived(tx *gorm.DB, backlogID uint, content string) ([]models.User, error) {
	if err := tx.Where("backlog_id = ?", backlogID).Delete(&models.Mention{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("backlog_id = ?", backlogID).Delete(&models.InviteRef{}).Error; err != nil {
		return nil, err
	}

	var mentioned []models.User
	seen := make(map[uint]struct{})
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		tag, _ := strconv.Atoi(m[2])
		var user models.User
		err := tx.Where("username = ? AND username_id = ?", m[1], tag).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue // stale mention, not an error
		}
		if err != nil {
			return nil, err
		}
		if _, ok := seen[user.ID]; ok {
			continue
		}
		seen[user.ID] = struct{}{}
		if err := tx.Create(&models.Mention{BacklogID: backlogID, UserID: user.ID}).Error; err != nil {
			return nil, err
		}
		mentioned = append(mentioned, user)
	}

	seenInvites := make(map[uint]struct{})
	for _, m := range inviteRefRe.FindAllStringSubmatch(content, -1) {
		var invite models.Invite
		err := tx.Where("token = ?", m[1]).First(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, ok := seenInvites[invite.ID]; ok {
			continue
		}
		seenInvites[invite.ID] = struct{}{}
		if err := tx.Create(&models.InviteRef{BacklogID: backlogID, InviteID: invite.ID}).Error; err != nil {
			return nil, err
		}
	}
	return mentioned, nil
}

func mentionedUsers(db *gorm.DB, backlogID uint) ([]models.User, error) {
	var users []models.User
	err := db.Joins("JOIN mentions ON mentions.user_id = users.id").
		Where("mentions.backlog_id = ?", backlogID).Find(&users).Error
	return users, err
}
