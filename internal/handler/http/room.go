package http

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"collabrun/internal/domain"
	"collabrun/internal/service"
)

// RoomHandler implements the Control Surface's room-management routes (spec.md §6.1).
type RoomHandler struct {
	rooms *service.RoomService
}

func NewRoomHandler(rooms *service.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

type createRoomResponse struct {
	RoomKey   string `json:"roomKey"`
	RoomID    string `json:"roomId"`
	CreatedAt string `json:"createdAt"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	room, err := h.rooms.CreateRoom(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, createRoomResponse{
		RoomKey:   room.JoinKey,
		RoomID:    room.ID,
		CreatedAt: room.CreatedAt.UTC().Format(httpTimeFormat),
	})
}

type joinRoomRequest struct {
	RoomKey string `json:"roomKey" binding:"required"`
	UserID  string `json:"userId"`
}

type joinRoomResponse struct {
	RoomData  roomData `json:"roomData"`
	CrdtState *string  `json:"crdtState"`
	UserID    string   `json:"userId"`
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: roomKey is required")
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	room, _, err := h.rooms.JoinRoom(c.Request.Context(), req.RoomKey, userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	var crdtState *string
	if len(room.CrdtState) > 0 {
		encoded := base64.StdEncoding.EncodeToString(room.CrdtState)
		crdtState = &encoded
	}
	SuccessResponse(c, http.StatusOK, joinRoomResponse{
		RoomData:  toRoomData(room),
		CrdtState: crdtState,
		UserID:    userID,
	})
}

type leaveRoomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	var req leaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: roomId and userId are required")
		return
	}
	if err := h.rooms.LeaveRoom(c.Request.Context(), req.RoomID, req.UserID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "left room"})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, toRoomData(room))
}

type updateRoomRequest struct {
	Content   string  `json:"content"`
	CrdtState *string `json:"crdtState"`
}

func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: content is required")
		return
	}
	var crdtState []byte
	if req.CrdtState != nil {
		decoded, err := base64.StdEncoding.DecodeString(*req.CrdtState)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "crdtState must be valid base64")
			return
		}
		crdtState = decoded
	}
	if err := h.rooms.UpdateRoom(c.Request.Context(), roomID, req.Content, crdtState); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "room updated"})
}

func (h *RoomHandler) ListParticipants(c *gin.Context) {
	roomID := c.Param("roomId")
	participants, err := h.rooms.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"participants": participants,
		"count":        len(participants),
	})
}

type updateCursorRequest struct {
	UserID         string `json:"userId" binding:"required"`
	CursorPosition struct {
		LineNumber int `json:"lineNumber" binding:"required,min=1"`
		Column     int `json:"column" binding:"min=0"`
	} `json:"cursorPosition" binding:"required"`
}

func (h *RoomHandler) UpdateCursor(c *gin.Context) {
	roomID := c.Param("roomId")
	var req updateCursorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: userId and cursorPosition are required")
		return
	}
	if err := h.rooms.UpdateCursor(c.Request.Context(), roomID, req.UserID, req.CursorPosition.LineNumber, req.CursorPosition.Column); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "cursor updated"})
}

const httpTimeFormat = "2006-01-02T15:04:05.000Z"

// roomData is the wire shape for RoomData referenced throughout spec.md §6.1.
type roomData struct {
	RoomID           string `json:"roomId"`
	RoomKey          string `json:"roomKey"`
	CreatedAt        string `json:"createdAt"`
	LastActivity     string `json:"lastActivity"`
	IsArchived       bool   `json:"isArchived"`
	ParticipantCount int    `json:"participantCount"`
	Content          string `json:"content"`
}

func toRoomData(room *domain.Room) roomData {
	return roomData{
		RoomID:           room.ID,
		RoomKey:          room.JoinKey,
		CreatedAt:        room.CreatedAt.UTC().Format(httpTimeFormat),
		LastActivity:     room.LastActivity.UTC().Format(httpTimeFormat),
		IsArchived:       room.IsArchived,
		ParticipantCount: room.ParticipantCount,
		Content:          room.CodeSnapshot,
	}
}
