package service

import (
	"errors"
	"strconv"
	"time"

	"chathub/internal/auth"
	"chathub/internal/config"
	"chathub/internal/models"

	"gorm.io/gorm"
)

// UserService 封装用户注册登录与 token 轮换。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Register 注册新用户并分配 0-99 中最小的空闲判别符；
// 同名用户占满 100 个判别符时视为用户名已满。
func (s *UserService) Register(username, password string) (*RegisterResult, error) {
	var user models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var taken []int
		if err := tx.Model(&models.User{}).Where("username = ?", username).
			Pluck("username_id", &taken).Error; err != nil {
			return err
		}
		used := make(map[int]bool, len(taken))
		for _, id := range taken {
			used[id] = true
		}
		tag := -1
		for i := 0; i < 100; i++ {
			if !used[i] {
				tag = i
				break
			}
		}
		if tag < 0 {
			return ErrUsernameTaken
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		user = models.User{Username: username, UsernameID: tag, PasswordHash: hash}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &RegisterResult{ID: user.ID, Username: user.Username, FullName: user.FullName()}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"-"`
}

// Login 校验用户名密码并签发 token 对，identity 形如 bob#04 或裸用户名。
func (s *UserService) Login(identity, password string) (*LoginResult, error) {
	user, err := s.Resolve(identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: *user}, nil
}

// Resolve 按 name#NN 或裸用户名（判别符取最小者）找用户。
func (s *UserService) Resolve(identity string) (*models.User, error) {
	var user models.User
	if m := mentionRe.FindStringSubmatch(">>" + identity); m != nil {
		tag, _ := strconv.Atoi(m[2])
		err := s.db.Where("username = ? AND username_id = ?", m[1], tag).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return &user, nil
	}
	err := s.db.Where("username = ?", identity).Order("username_id").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Get 按主键加载用户。
func (s *UserService) Get(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
