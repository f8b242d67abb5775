package http

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// UpdateRoomRequest: отсутствующее поле не меняется, пустой объект ничего не пишет.
type UpdateRoomRequest struct {
	Name     *string `json:"name"`
	Capacity *int    `json:"capacity"`
	IsActive *bool   `json:"isActive"`
}

type RoomItem struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Capacity            int       `json:"capacity"`
	IsActive            bool      `json:"isActive"`
	CurrentParticipants int       `json:"currentParticipants"`
	Publishers          int       `json:"publishers"`
	Viewers             int       `json:"viewers"`
	IsFull              bool      `json:"isFull"`
	CreatedAt           time.Time `json:"createdAt"`
}

type RoomsListResponse struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type JoinRoomRequest struct {
	UserName       string `json:"userName"`
	WantsPublisher bool   `json:"wantsPublisher"`
}

type JoinRoomResponse struct {
	RoomID              string    `json:"roomId"`
	Token               string    `json:"token"`
	UID                 string    `json:"uid"`
	Role                string    `json:"role"`
	IsPublisher         bool      `json:"isPublisher"`
	AlreadyJoined       bool      `json:"alreadyJoined"`
	Upgraded            bool      `json:"upgraded"`
	CurrentParticipants int       `json:"currentParticipants"`
	ExpiresAt           time.Time `json:"expiresAt"`
}

type ParticipantItem struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ParticipantsResponse struct {
	Items []ParticipantItem `json:"items"`
}

type EventItem struct {
	ID           string         `json:"id"`
	EventType    string         `json:"eventType"`
	InitiatorID  *string        `json:"initiatorId"`
	TargetUserID string         `json:"targetUserId"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type EventsResponse struct {
	Items      []EventItem `json:"items"`
	NextCursor string      `json:"nextCursor,omitempty"`
}
