// Package errs содержит ошибки уровня сервиса; хендлеры мапят их в HTTP-коды,
// WS-сессия — в error-события.
package errs

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrInvalidInput   = errors.New("invalid input")
)
