package grpcx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/service"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	mdAuthorization = "authorization"
	mdUserID        = "x-user-id"
)

type Server struct {
	roomSvc *service.RoomService
	joiner  *service.JoinCoordinator
}

func NewServer(roomSvc *service.RoomService, joiner *service.JoinCoordinator) *Server {
	return &Server{roomSvc: roomSvc, joiner: joiner}
}

var _ MainRoomServer = (*Server)(nil)

// -------- helpers --------

func userFromMD(ctx context.Context) (token, userID string, _ error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	// Authorization: Bearer <access_token>
	auth := first(md.Get(mdAuthorization))
	if auth == "" {
		return "", "", status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || len(auth) <= 7 {
		return "", "", status.Error(codes.Unauthenticated, "invalid authorization")
	}
	token = strings.TrimSpace(auth[7:])

	userID = strings.TrimSpace(first(md.Get(mdUserID)))
	if userID == "" {
		return "", "", status.Error(codes.Unauthenticated, "missing x-user-id")
	}

	return token, userID, nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func boolField(in *structpb.Struct, key string) bool {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, "Room not found")
	case errors.Is(err, domain.ErrRoomInactive):
		return status.Error(codes.FailedPrecondition, "Room is not active")
	case errors.Is(err, domain.ErrRoomFull):
		return status.Error(codes.ResourceExhausted, "Room is full")
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrRoleDowngrade), errors.Is(err, domain.ErrCapacityBelowPublishers):
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -------- methods --------

// Join: {room_id, user_name, wants_publisher} → {room_id, token, uid, role, is_publisher,
// already_joined, upgraded, current_participants, expires_at}. Пользователь: из x-user-id.
func (s *Server) Join(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, userID, err := userFromMD(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.joiner.JoinWithRetry(ctx, service.JoinRequest{
		RoomID:         stringField(in, "room_id"),
		UserID:         userID,
		UserName:       stringField(in, "user_name"),
		WantsPublisher: boolField(in, "wants_publisher"),
	})
	if err != nil {
		return nil, mapErr(err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"room_id":              res.RoomID,
		"token":                res.Token,
		"uid":                  res.UID,
		"role":                 res.Role.String(),
		"is_publisher":         res.IsPublisher,
		"already_joined":       res.AlreadyJoined,
		"upgraded":             res.Upgraded,
		"current_participants": res.CurrentParticipants,
		"expires_at":           res.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetRoom: {id} → витрина комнаты.
func (s *Server) GetRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, _, err := userFromMD(ctx); err != nil {
		return nil, err
	}
	sum, err := s.roomSvc.GetRoom(ctx, stringField(in, "id"))
	if err != nil {
		return nil, mapErr(err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"id":                   sum.Room.ID,
		"name":                 sum.Room.Name,
		"capacity":             sum.Room.Capacity,
		"is_active":            sum.Room.IsActive,
		"current_participants": sum.Room.CurrentParticipants,
		"publishers":           sum.Publishers,
		"viewers":              sum.Viewers,
		"is_full":              sum.IsFull(),
		"created_at":           sum.Room.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
