package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/service"
	httpmw "github.com/cwrk-planet/mainroom-service/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	roomSvc   *service.RoomService
	memberSvc *service.MemberService
	joiner    *service.JoinCoordinator
}

func NewHandler(room *service.RoomService, member *service.MemberService, joiner *service.JoinCoordinator) *Handler {
	return &Handler{
		roomSvc:   room,
		memberSvc: member,
		joiner:    joiner,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func roomItem(s domain.RoomSummary) RoomItem {
	return RoomItem{
		ID:                  s.Room.ID,
		Name:                s.Room.Name,
		Capacity:            s.Room.Capacity,
		IsActive:            s.Room.IsActive,
		CurrentParticipants: s.Room.CurrentParticipants,
		Publishers:          s.Publishers,
		Viewers:             s.Viewers,
		IsFull:              s.IsFull(),
		CreatedAt:           s.Room.CreatedAt,
	}
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	room, err := h.roomSvc.CreateRoom(r.Context(), req.Name, req.Capacity)
	if err != nil {
		writeError(w, r, "CreateRoom", err)
		return
	}

	writeJSON(w, http.StatusCreated, roomItem(domain.RoomSummary{Room: *room}))
}

// GET /rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	cursor := r.URL.Query().Get("cursor")

	rooms, next, err := h.roomSvc.ListRooms(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, r, "ListRooms", err)
		return
	}
	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms)), NextCursor: next}
	for _, s := range rooms {
		resp.Items = append(resp.Items, roomItem(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	sum, err := h.roomSvc.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "GetRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, roomItem(*sum))
}

// PATCH /rooms/{id}
func (h *Handler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	sum, err := h.roomSvc.UpdateRoom(r.Context(), chi.URLParam(r, "id"), domain.RoomPatch{
		Name:     req.Name,
		Capacity: req.Capacity,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeError(w, r, "UpdateRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, roomItem(*sum))
}

// POST /rooms/{id}/join
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing user id"})
		return
	}

	var req JoinRoomRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
	}

	res, err := h.joiner.JoinWithRetry(r.Context(), service.JoinRequest{
		RoomID:         chi.URLParam(r, "id"),
		UserID:         userID,
		UserName:       req.UserName,
		WantsPublisher: req.WantsPublisher,
	})
	if err != nil {
		writeError(w, r, "JoinRoom", err)
		return
	}

	writeJSON(w, http.StatusOK, JoinRoomResponse{
		RoomID:              res.RoomID,
		Token:               res.Token,
		UID:                 res.UID,
		Role:                res.Role.String(),
		IsPublisher:         res.IsPublisher,
		AlreadyJoined:       res.AlreadyJoined,
		Upgraded:            res.Upgraded,
		CurrentParticipants: res.CurrentParticipants,
		ExpiresAt:           res.ExpiresAt,
	})
}

// GET /rooms/{id}/participants?publishersOnly=
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	publishersOnly, _ := strconv.ParseBool(r.URL.Query().Get("publishersOnly"))

	items, err := h.memberSvc.ListParticipants(r.Context(), chi.URLParam(r, "id"), publishersOnly)
	if err != nil {
		writeError(w, r, "GetParticipants", err)
		return
	}

	resp := ParticipantsResponse{Items: make([]ParticipantItem, 0, len(items))}
	for _, p := range items {
		resp.Items = append(resp.Items, ParticipantItem{
			ID:       p.ID,
			UserID:   p.UserID,
			UserName: p.UserName,
			Role:     p.Role.String(),
			JoinedAt: p.JoinedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}/events?limit=&cursor=
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	evs, next, err := h.roomSvc.ListEvents(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, "GetEvents", err)
		return
	}

	resp := EventsResponse{Items: make([]EventItem, 0, len(evs)), NextCursor: next}
	for _, ev := range evs {
		resp.Items = append(resp.Items, EventItem{
			ID:           ev.ID,
			EventType:    string(ev.Type),
			InitiatorID:  ev.InitiatorID,
			TargetUserID: ev.TargetUserID,
			Metadata:     ev.Metadata,
			CreatedAt:    ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
