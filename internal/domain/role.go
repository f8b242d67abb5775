package domain

import (
	"fmt"
	"strings"
)

// Role участника комнаты. Движение только вперёд: None → Viewer → Publisher.
type Role uint8

const (
	RoleNone Role = iota
	RoleViewer
	RolePublisher
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RolePublisher:
		return "publisher"
	default:
		return "none"
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer, nil
	case "publisher":
		return RolePublisher, nil
	case "", "none":
		return RoleNone, nil
	default:
		return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// RequestedRole переводит флаг запроса в роль.
func RequestedRole(wantsPublisher bool) Role {
	if wantsPublisher {
		return RolePublisher
	}
	return RoleViewer
}

// CanBecome: допустим ли переход r → next (тождественный переход разрешён).
func (r Role) CanBecome(next Role) bool {
	if next == RoleNone {
		return r == RoleNone
	}
	return next >= r
}

// Transition возвращает роль после перехода в want или ErrRoleDowngrade.
func (r Role) Transition(want Role) (Role, error) {
	if want == RoleNone {
		return r, fmt.Errorf("%w: empty target role", ErrInvalidInput)
	}
	if !r.CanBecome(want) {
		return r, fmt.Errorf("%w: %s -> %s", ErrRoleDowngrade, r, want)
	}
	return want, nil
}

// NeedsUpgrade: true только для Viewer, запросившего Publisher.
func (r Role) NeedsUpgrade(want Role) bool {
	return r == RoleViewer && want == RolePublisher
}
