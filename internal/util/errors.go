package util

import (
	"errors"
	"net/http"
)

// ErrorKind 错误分类
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindAuthorization
	KindMediaAccess
	KindTransientChannel
	KindValidation
	KindConflict
)

var (
	// 配置类：题库为空、试卷/考生不存在
	ErrEmptyQuestionPool = errors.New("exam has no questions configured")
	ErrExamNotFound      = errors.New("exam not found")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrQuestionNotFound  = errors.New("question not in this exam")
	ErrUserNotFound      = errors.New("用户不存在")

	// 权限类
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSessionNotOwned    = errors.New("session does not belong to current user")
	ErrObserverNotAllowed = errors.New("only admin observers may register")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")

	// 设备类（降级，不中断考试）
	ErrMediaUnavailable = errors.New("media device unavailable")

	// 连接类
	ErrObserverGone = errors.New("observer connection gone")

	// 参数校验类
	ErrInvalidEventType = errors.New("invalid proctor event type")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrInvalidMetadata  = errors.New("invalid metadata for event type")
	ErrInvalidAnswer    = errors.New("answer is not one of the question options")
	ErrTimeExpired      = errors.New("exam time has expired")

	// 状态冲突
	ErrExamNotActive     = errors.New("exam is not active")
	ErrExamNotStarted    = errors.New("exam not started")
	ErrAlreadySubmitted  = errors.New("exam already submitted")
	ErrRetakeNotAllowed  = errors.New("retake only allowed after submission")
	ErrCandidateAssigned = errors.New("user already assigned to this exam")
	ErrResultNotReady    = errors.New("exam not submitted yet")
	ErrEmailTaken        = errors.New("email already registered")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrEmptyQuestionPool, KindConfiguration},
	{ErrExamNotFound, KindConfiguration},
	{ErrCandidateNotFound, KindConfiguration},
	{ErrQuestionNotFound, KindConfiguration},
	{ErrUserNotFound, KindConfiguration},
	{ErrPermissionDenied, KindAuthorization},
	{ErrSessionNotOwned, KindAuthorization},
	{ErrObserverNotAllowed, KindAuthorization},
	{ErrInvalidCredentials, KindAuthorization},
	{ErrInvalidToken, KindAuthorization},
	{ErrMediaUnavailable, KindMediaAccess},
	{ErrObserverGone, KindTransientChannel},
	{ErrInvalidEventType, KindValidation},
	{ErrInvalidSeverity, KindValidation},
	{ErrInvalidMetadata, KindValidation},
	{ErrInvalidAnswer, KindValidation},
	{ErrTimeExpired, KindConflict},
	{ErrExamNotActive, KindConflict},
	{ErrExamNotStarted, KindConflict},
	{ErrAlreadySubmitted, KindConflict},
	{ErrRetakeNotAllowed, KindConflict},
	{ErrCandidateAssigned, KindConflict},
	{ErrResultNotReady, KindConflict},
	{ErrEmailTaken, KindConflict},
}

// KindOf 返回错误所属分类
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// HTTPStatus 错误分类对应的 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfiguration:
		if errors.Is(err, ErrEmptyQuestionPool) {
			return http.StatusServiceUnavailable
		}
		return http.StatusNotFound
	case KindAuthorization:
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidToken) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case KindValidation, KindMediaAccess:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTransientChannel:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}
