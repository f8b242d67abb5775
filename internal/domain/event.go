package domain

import "time"

type EventType string

const (
	EventJoinedViewer    EventType = "JOINED_VIEWER"
	EventJoinedPublisher EventType = "JOINED_PUBLISHER"
	EventPublishGranted  EventType = "PUBLISH_GRANTED"
)

// JoinEventType: событие для первичного входа с ролью r.
func JoinEventType(r Role) EventType {
	if r == RolePublisher {
		return EventJoinedPublisher
	}
	return EventJoinedViewer
}

type RoomEvent struct {
	ID           string         `json:"id"`
	RoomID       string         `json:"room_id"`
	Type         EventType      `json:"event_type"`
	InitiatorID  *string        `json:"initiator_user_id,omitempty"`
	TargetUserID string         `json:"target_user_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
