package service

import "errors"

// 业务层通用错误，ws 路由与 HTTP handler 根据错误类型决定回应方式：
// NotFound 静默丢弃事件，Forbidden/InvalidTransition/Validation 只回给发起方。
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyExists     = errors.New("already exists")
	ErrValidation        = errors.New("validation failed")
	ErrNotMessage        = errors.New("backlog entry is not a message")

	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
