package hub

import "sync"

// Hub is the connection registry: which clients are in which room, for broadcast
// fan-out. Grounded on the teacher's hub.go registry shape, simplified from a central
// message-passing actor to a plain mutex-guarded map since each room's CRDT ordering is
// already owned by the CollaborationService's per-room apply lane — the hub only needs
// to know who to fan a pre-ordered broadcast out to.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Join adds client to roomId's broadcast set, leaving any previously joined room.
func (h *Hub) Join(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.RoomID != "" {
		h.leaveLocked(client, client.RoomID)
	}
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*Client]struct{})
		h.rooms[roomID] = set
	}
	set[client] = struct{}{}
	client.RoomID = roomID
}

// Leave removes client from roomId's broadcast set.
func (h *Hub) Leave(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, roomID)
	client.RoomID = ""
}

func (h *Hub) leaveLocked(client *Client, roomID string) {
	set, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) unregister(client *Client) {
	if client.RoomID == "" {
		return
	}
	h.Leave(client, client.RoomID)
}

// Broadcast fans payload out to every client in roomId except (optionally) the
// originating connection.
func (h *Hub) Broadcast(roomID string, payload []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		if client == except {
			continue
		}
		client.Send(payload)
	}
}

// RoomSize reports how many connections are currently registered in roomId.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ActiveRoomIDs returns every room with at least one live connection, used by the
// Background Supervisor to scope its periodic work to rooms actually in use.
func (h *Hub) ActiveRoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}
