package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collabrun/internal/hub"
	"collabrun/internal/service"
)

const (
	roomInactiveHours       = 24
	participantInactiveMins = 30
	presenceInactiveWindow  = 30 * time.Minute
)

// RoomLifecycleHandler implements the Background Supervisor's room/presence lifecycle
// sweep: archiving rooms idle past roomInactiveHours, marking participants inactive past
// participantInactiveMins, expiring stale presence records, and releasing the in-memory
// CRDT session and presence state of any room the hub no longer has live connections for.
type RoomLifecycleHandler struct {
	rooms    *service.RoomService
	presence *service.PresenceTracker
	collab   *service.CollaborationService
	hub      *hub.Hub
}

func NewRoomLifecycleHandler(rooms *service.RoomService, presence *service.PresenceTracker, collab *service.CollaborationService, h *hub.Hub) *RoomLifecycleHandler {
	if rooms == nil || presence == nil || collab == nil || h == nil {
		panic("RoomService, PresenceTracker, CollaborationService and Hub must be non-nil for RoomLifecycleHandler")
	}
	return &RoomLifecycleHandler{rooms: rooms, presence: presence, collab: collab, hub: h}
}

func (h *RoomLifecycleHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	archived, err := h.rooms.ArchiveInactiveRooms(ctx, roomInactiveHours)
	if err != nil {
		logrus.WithError(err).Error("room lifecycle sweep: archive inactive rooms failed")
	} else if archived > 0 {
		logrus.WithField("count", archived).Info("room lifecycle sweep: archived inactive rooms")
	}

	cleaned, err := h.rooms.CleanupInactiveParticipants(ctx, participantInactiveMins)
	if err != nil {
		logrus.WithError(err).Error("room lifecycle sweep: cleanup inactive participants failed")
	} else if cleaned > 0 {
		logrus.WithField("count", cleaned).Info("room lifecycle sweep: marked participants inactive")
	}

	if swept := h.presence.SweepInactive(presenceInactiveWindow); swept > 0 {
		logrus.WithField("count", swept).Info("room lifecycle sweep: expired stale presence records")
	}

	active := h.hub.ActiveRoomIDs()
	for _, roomID := range h.collab.PruneInactiveSessions(active) {
		h.presence.RemoveRoom(roomID)
	}
	return nil
}
