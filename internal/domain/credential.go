package domain

import "time"

// Credential: транспортный токен для комнаты; содержимое для ядра непрозрачно.
type Credential struct {
	Token     string
	UID       string
	Role      Role
	ExpiresAt time.Time
}
