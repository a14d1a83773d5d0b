package model

import (
	"errors"
	"fmt"
	"time"
)

// 错误类别，配合 errors.Is 使用
var (
	ErrValidation       = errors.New("invalid request")
	ErrDepthExceeded    = errors.New("maximum thread depth exceeded")
	ErrContentRejected  = errors.New("content rejected")
	ErrAlreadyFlagged   = errors.New("you have already flagged this comment")
	ErrUserBanned       = errors.New("user is banned")
	ErrThrottled        = errors.New("too many requests")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("permission denied")
	ErrEditWindowClosed = errors.New("the edit window for this comment has closed")
)

// ValidationError 参数错误
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError 创建参数错误
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DepthExceededError 回复层级超限
type DepthExceededError struct {
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("replies are limited to %d levels; reply to a shallower comment instead", e.MaxDepth)
}

func (e *DepthExceededError) Is(target error) bool {
	return target == ErrDepthExceeded
}

// ContentRejectedError 内容被分类器拒绝
type ContentRejectedError struct {
	Reason string
}

func (e *ContentRejectedError) Error() string {
	return "comment rejected: " + e.Reason
}

func (e *ContentRejectedError) Is(target error) bool {
	return target == ErrContentRejected
}

// UserBannedError 用户被封禁
type UserBannedError struct {
	Reason    string
	ExpiresAt *time.Time
}

// NewUserBannedError 由封禁记录创建错误
func NewUserBannedError(ban *Ban) error {
	return &UserBannedError{Reason: ban.Reason, ExpiresAt: ban.ExpiresAt}
}

func (e *UserBannedError) Error() string {
	if e.ExpiresAt == nil {
		return "you are banned permanently: " + e.Reason
	}
	return fmt.Sprintf("you are banned until %s: %s", e.ExpiresAt.UTC().Format(time.RFC3339), e.Reason)
}

func (e *UserBannedError) Is(target error) bool {
	return target == ErrUserBanned
}

// ThrottledError 触发限流
type ThrottledError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many %s requests, retry in %s", e.Action, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}
