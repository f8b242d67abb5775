package domain

import (
	"errors"
)

// Доменные (терминальные) ошибки: автоматически не ретраятся.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomInactive  = errors.New("room is not active")
	ErrRoomFull      = errors.New("room is full")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRoleDowngrade = errors.New("role downgrade is not allowed")

	// ErrCapacityBelowPublishers: новая вместимость меньше числа активных публикаторов
	ErrCapacityBelowPublishers = errors.New("capacity is below current publisher count")
)

// Инфраструктурные ошибки: безопасно повторить весь join целиком.
var (
	ErrLockTimeout        = errors.New("room lock timeout")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrJoinTimeout        = errors.New("join timeout")
)

var (
	// ErrCredentialIssuance всегда приводит к полному откату транзакции.
	ErrCredentialIssuance = errors.New("credential issuance failed")
	// ErrDuplicateMembership: нарушен уникальный индекс активного участника; это баг, а не гонка.
	ErrDuplicateMembership = errors.New("duplicate active membership")
)

// IsRetryable сообщает, можно ли повторить вызов без изменения входных данных.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrJoinTimeout)
}
