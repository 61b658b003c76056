// Package websocket implements the Control Surface's single real-time endpoint
// (spec.md §6.2), dispatching JSON-framed {event,data} messages to the CRDT Session
// Manager, the Room Store, and the Presence Tracker.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collabrun/internal/crdt"
	"collabrun/internal/domain"
	"collabrun/internal/hub"
	"collabrun/internal/service"
)

// wireBytes renders as a JSON array of byte values, per spec.md §6.2's "binary payloads
// travel as arrays of byte values in JSON".
type wireBytes []byte

func (b wireBytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *wireBytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Handler implements hub.MessageHandler, wiring one WebSocket connection's events to
// the core services.
type Handler struct {
	hub      *hub.Hub
	rooms    *service.RoomService
	collab   *service.CollaborationService
	presence *service.PresenceTracker
	upgrader websocket.Upgrader
}

func NewHandler(h *hub.Hub, rooms *service.RoomService, collab *service.CollaborationService, presence *service.PresenceTracker) *Handler {
	if h == nil || rooms == nil || collab == nil || presence == nil {
		panic("Hub, RoomService, CollaborationService, and PresenceTracker must be non-nil for websocket.Handler")
	}
	return &Handler{
		hub:      h,
		rooms:    rooms,
		collab:   collab,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the connection's pumps until it closes. Mounted
// at /api/socket/io per the Open Question resolution.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket: upgrade failed")
		return
	}
	client := hub.NewClient(h.hub, conn, uuid.NewString(), h)
	client.Run()
}

// HandleMessage implements hub.MessageHandler.
func (h *Handler) HandleMessage(client *hub.Client, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(client, "malformed message envelope")
		return
	}
	ctx := context.Background()

	switch env.Event {
	case "join-room":
		h.handleJoinRoom(ctx, client, env.Data)
	case "leave-room":
		h.handleLeaveRoom(ctx, client, env.Data)
	case "get-document":
		h.handleGetDocument(ctx, client, env.Data)
	case "crdt-sync-request":
		h.handleSyncRequest(ctx, client, env.Data)
	case "crdt-sync-step1":
		h.handleSyncStep1(ctx, client, env.Data)
	case "crdt-update":
		h.handleCrdtUpdate(ctx, client, env.Data)
	case "cursor-update":
		h.handleCursorUpdate(ctx, client, env.Data)
	case "presence-update":
		h.handlePresenceUpdate(ctx, client, env.Data)
	case "ping":
		h.send(client, "pong", nil)
	default:
		h.sendError(client, "unknown event: "+env.Event)
	}
}

// HandleDisconnect implements hub.MessageHandler, dropping the participant to inactive
// when heartbeat fails or the socket otherwise closes.
func (h *Handler) HandleDisconnect(client *hub.Client) {
	if client.RoomID == "" || client.UserID == "" {
		return
	}
	h.presence.Leave(client.RoomID, client.UserID)
	h.hub.Broadcast(client.RoomID, h.encode("user-left", gin.H{"userId": client.UserID}), client)
}

type joinRoomData struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
}

func (h *Handler) handleJoinRoom(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data joinRoomData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" || data.UserID == "" {
		h.sendError(client, "join-room requires roomId and userId")
		return
	}
	if _, err := h.rooms.GetRoom(ctx, data.RoomID); err != nil {
		h.sendError(client, "room not found")
		return
	}

	color := data.UserColor
	if color == "" {
		existing := h.presence.Snapshot(data.RoomID)
		color = domain.ColorPalette[len(existing)%len(domain.ColorPalette)]
	}

	client.UserID = data.UserID
	h.hub.Join(client, data.RoomID)
	record := h.presence.Join(data.RoomID, data.UserID, color)

	h.send(client, "room-joined", gin.H{
		"roomId":   data.RoomID,
		"userId":   data.UserID,
		"socketId": client.ID,
		"presence": h.presence.Snapshot(data.RoomID),
	})
	h.hub.Broadcast(data.RoomID, h.encode("user-joined", gin.H{
		"userId": data.UserID,
		"color":  record.Color,
	}), client)
}

type roomScopedData struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (h *Handler) handleLeaveRoom(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data roomScopedData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "leave-room requires roomId")
		return
	}
	h.presence.Leave(data.RoomID, data.UserID)
	h.hub.Leave(client, data.RoomID)
	h.hub.Broadcast(data.RoomID, h.encode("user-left", gin.H{"userId": data.UserID}), client)
}

func (h *Handler) handleGetDocument(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data roomScopedData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "get-document requires roomId")
		return
	}
	content, err := h.collab.DocumentContent(ctx, data.RoomID)
	if err != nil {
		h.sendCrdtError(client, "SYNC_REQUEST_ERROR", "failed to load document")
		return
	}
	h.send(client, "document-content", gin.H{"roomId": data.RoomID, "content": content})
}

func (h *Handler) handleSyncRequest(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data roomScopedData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "crdt-sync-request requires roomId")
		return
	}
	vector, err := h.collab.StateVector(ctx, data.RoomID)
	if err != nil {
		h.sendCrdtError(client, "SYNC_REQUEST_ERROR", "failed to read state vector")
		return
	}
	update, err := h.collab.EncodeDelta(ctx, data.RoomID, nil)
	if err != nil {
		h.sendCrdtError(client, "SYNC_REQUEST_ERROR", "failed to encode state")
		return
	}
	vectorBytes, _ := json.Marshal(vector)
	h.send(client, "crdt-sync-response", gin.H{
		"roomId":      data.RoomID,
		"stateVector": wireBytes(vectorBytes),
		"update":      wireBytes(update),
	})
}

type syncStep1Data struct {
	RoomID      string    `json:"roomId"`
	StateVector wireBytes `json:"stateVector"`
}

func (h *Handler) handleSyncStep1(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data syncStep1Data
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "crdt-sync-step1 requires roomId")
		return
	}
	var peerVector crdt.StateVector
	if len(data.StateVector) > 0 {
		if err := json.Unmarshal(data.StateVector, &peerVector); err != nil {
			h.sendCrdtError(client, "SYNC_STEP1_ERROR", "malformed state vector")
			return
		}
	}
	update, err := h.collab.EncodeDelta(ctx, data.RoomID, peerVector)
	if err != nil {
		h.sendCrdtError(client, "SYNC_STEP1_ERROR", "failed to compute delta")
		return
	}
	h.send(client, "crdt-sync-step2", gin.H{"roomId": data.RoomID, "update": wireBytes(update)})
}

type crdtUpdateData struct {
	RoomID string    `json:"roomId"`
	Update wireBytes `json:"update"`
	Origin string    `json:"origin"`
}

func (h *Handler) handleCrdtUpdate(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data crdtUpdateData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "crdt-update requires roomId and update")
		return
	}
	origin := data.Origin
	if origin == "" {
		origin = client.UserID
	}
	outcome, err := h.collab.ApplyClientUpdate(ctx, data.RoomID, data.Update, origin)
	if err != nil {
		h.sendCrdtError(client, "INVALID_UPDATE", err.Error())
		return
	}

	if outcome.ConflictFailed {
		h.sendCrdtError(client, "CONFLICT_RESOLUTION_FAILED", "server could not reconcile the update")
		return
	}
	if outcome.ConflictResolved {
		h.send(client, "crdt-conflict-resolved", gin.H{
			"roomId":        data.RoomID,
			"resolvedState": wireBytes(outcome.ResolvedState),
		})
		return
	}
	h.hub.Broadcast(data.RoomID, h.encode("crdt-update", gin.H{
		"roomId": data.RoomID,
		"update": wireBytes(outcome.Update),
		"origin": origin,
	}), client)
}

type cursorUpdateData struct {
	RoomID string      `json:"roomId"`
	Cursor service.Cursor `json:"cursor"`
}

func (h *Handler) handleCursorUpdate(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data cursorUpdateData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "cursor-update requires roomId and cursor")
		return
	}
	h.presence.UpdateCursor(data.RoomID, client.UserID, data.Cursor)
	if err := h.rooms.UpdateCursor(ctx, data.RoomID, client.UserID, data.Cursor.Line, data.Cursor.Column); err != nil {
		logrus.WithError(err).Debug("cursor-update: best-effort persistence failed")
	}
	h.hub.Broadcast(data.RoomID, h.encode("cursor-update", gin.H{
		"roomId": data.RoomID,
		"userId": client.UserID,
		"cursor": data.Cursor,
	}), client)
}

type presenceUpdateData struct {
	RoomID   string          `json:"roomId"`
	Presence json.RawMessage `json:"presence"`
}

func (h *Handler) handlePresenceUpdate(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var data presenceUpdateData
	if err := json.Unmarshal(raw, &data); err != nil || data.RoomID == "" {
		h.sendError(client, "presence-update requires roomId and presence")
		return
	}
	h.hub.Broadcast(data.RoomID, h.encode("presence-update", gin.H{
		"roomId":   data.RoomID,
		"userId":   client.UserID,
		"presence": data.Presence,
	}), client)
}

func (h *Handler) send(client *hub.Client, event string, data interface{}) {
	client.Send(h.encode(event, data))
}

func (h *Handler) encode(event string, data interface{}) []byte {
	payload, err := json.Marshal(outboundEnvelope{Event: event, Data: data})
	if err != nil {
		logrus.WithError(err).Error("websocket: failed to encode outbound envelope")
		return []byte(`{"event":"server-error","data":{"message":"encoding failure"}}`)
	}
	return payload
}

func (h *Handler) sendError(client *hub.Client, message string) {
	h.send(client, "error", gin.H{"message": message})
}

func (h *Handler) sendCrdtError(client *hub.Client, code, message string) {
	h.send(client, "crdt-error", gin.H{"code": code, "message": message})
}
