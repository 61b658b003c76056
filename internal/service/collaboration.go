package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collabrun/internal/crdt"
	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

// ApplyOutcome is what the Control Surface's WebSocket handler needs to decide what to
// rebroadcast after a client update is applied.
type ApplyOutcome struct {
	Update           []byte // bytes to rebroadcast verbatim to the rest of the room
	ConflictResolved bool
	ConflictFailed   bool
	ResolvedState    []byte // sent only to the originating connection, never rebroadcast
}

type roomSession struct {
	mu                sync.Mutex
	doc               *crdt.Document
	updateCount       int
	sequence          uint64
	stop              chan struct{}
	lastDebounceFlush time.Time
}

// CollaborationService is the CRDT Session Manager: the in-memory registry of per-room
// documents, the per-room apply lane, and the snapshot/restoration/conflict policy.
// Grounded on the teacher's hub.go message-passing shape, generalized from board-action
// replay to opaque CRDT update application, and on Shivang2303-ai-kms's opaque-blob
// persistence pattern for the storage side.
type CollaborationService struct {
	mu       sync.RWMutex
	sessions map[string]*roomSession

	rooms     repository.RoomRepository
	snapshots repository.SnapshotRepository
	updates   repository.UpdateRepository
	state     repository.StateRepository

	snapshotThreshold int
	periodicInterval  time.Duration
	debounceInterval  time.Duration
}

func NewCollaborationService(
	rooms repository.RoomRepository,
	snapshots repository.SnapshotRepository,
	updates repository.UpdateRepository,
	state repository.StateRepository,
) *CollaborationService {
	if rooms == nil || snapshots == nil || updates == nil || state == nil {
		panic("all repositories must be non-nil for CollaborationService")
	}
	return &CollaborationService{
		sessions:          make(map[string]*roomSession),
		rooms:             rooms,
		snapshots:         snapshots,
		updates:           updates,
		state:             state,
		snapshotThreshold: 100,
		periodicInterval:  30 * time.Second,
		debounceInterval:  1 * time.Second,
	}
}

// InitializeDocument returns the in-memory document for roomId, constructing and
// restoring it on first access per the restoration order: room.crdtState, else the
// latest Snapshot's crdtState, else seed text from the Snapshot/room content, else empty.
func (s *CollaborationService) InitializeDocument(ctx context.Context, roomID string) (*crdt.Document, error) {
	s.mu.RLock()
	session, ok := s.sessions[roomID]
	s.mu.RUnlock()
	if ok {
		return session.doc, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[roomID]; ok {
		return session.doc, nil
	}

	doc, err := s.restoreDocument(ctx, roomID)
	if err != nil {
		return nil, err
	}
	session = &roomSession{doc: doc, stop: make(chan struct{})}
	s.sessions[roomID] = session
	go s.runPeriodicSnapshot(roomID, session)
	return doc, nil
}

func (s *CollaborationService) restoreDocument(ctx context.Context, roomID string) (*crdt.Document, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NotFoundError("room not found")
		}
		return nil, InternalError("find room for restoration", err)
	}

	if len(room.CrdtState) > 0 {
		doc := crdt.NewDocument()
		if err := doc.ApplyUpdate(room.CrdtState); err == nil {
			if _, verifyErr := crdt.ValidateIntegrity(doc); verifyErr == nil {
				return doc, nil
			}
		}
	}

	latest, err := s.snapshots.GetLatest(ctx, roomID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, InternalError("load latest snapshot", err)
	}
	if latest != nil {
		if len(latest.CrdtState) > 0 {
			doc := crdt.NewDocument()
			if err := doc.ApplyUpdate(latest.CrdtState); err == nil {
				return doc, nil
			}
		}
		doc := crdt.NewDocument()
		if latest.Content != "" {
			if _, err := doc.SeedText(latest.Content, "restore"); err != nil {
				return nil, InternalError("seed document from snapshot content", err)
			}
		}
		return doc, nil
	}

	doc := crdt.NewDocument()
	if room.CodeSnapshot != "" {
		if _, err := doc.SeedText(room.CodeSnapshot, "restore"); err != nil {
			return nil, InternalError("seed document from room snapshot", err)
		}
	}
	return doc, nil
}

func (s *CollaborationService) session(roomID string) (*roomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[roomID]
	return session, ok
}

func (s *CollaborationService) DocumentContent(ctx context.Context, roomID string) (string, error) {
	doc, err := s.InitializeDocument(ctx, roomID)
	if err != nil {
		return "", err
	}
	return doc.Text(), nil
}

func (s *CollaborationService) StateVector(ctx context.Context, roomID string) (crdt.StateVector, error) {
	doc, err := s.InitializeDocument(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return doc.StateVector(), nil
}

// EncodeDelta computes the minimal update a peer summarized by peerVector still needs.
func (s *CollaborationService) EncodeDelta(ctx context.Context, roomID string, peerVector crdt.StateVector) ([]byte, error) {
	doc, err := s.InitializeDocument(ctx, roomID)
	if err != nil {
		return nil, err
	}
	delta, err := doc.EncodeDelta(peerVector)
	if err != nil {
		return nil, InternalError("encode delta", err)
	}
	return delta, nil
}

// ApplyClientUpdate validates, applies (or conflict-resolves) an inbound update inside
// the room's serialized apply lane, establishing the total order before any broadcast.
func (s *CollaborationService) ApplyClientUpdate(ctx context.Context, roomID string, update []byte, origin string) (*ApplyOutcome, error) {
	if len(update) == 0 {
		return nil, ValidationError("update payload must not be empty")
	}
	if _, err := s.InitializeDocument(ctx, roomID); err != nil {
		return nil, err
	}
	session, _ := s.session(roomID)

	session.mu.Lock()
	defer session.mu.Unlock()

	if err := session.doc.ApplyUpdate(update); err != nil {
		if errors.Is(err, crdt.ErrEmptyUpdate) || errors.Is(err, crdt.ErrMalformedUpdate) {
			return s.resolveConflictLocked(ctx, roomID, session, update)
		}
		return s.resolveConflictLocked(ctx, roomID, session, update)
	}

	session.updateCount++
	session.sequence++
	s.recordUpdateBestEffort(ctx, roomID, session.sequence, update, origin)
	s.debounceWritebackLocked(ctx, roomID, session)

	if session.updateCount >= s.snapshotThreshold {
		s.writeSnapshotLocked(ctx, roomID, session, domain.SnapshotAuto)
		session.updateCount = 0
	}

	return &ApplyOutcome{Update: update}, nil
}

// resolveConflictLocked implements §4.7's three-step conflict recovery. Caller holds
// session.mu.
func (s *CollaborationService) resolveConflictLocked(ctx context.Context, roomID string, session *roomSession, failing []byte) (*ApplyOutcome, error) {
	logrus.WithField("room_id", roomID).Warn("crdt conflict: applying failing update to server document")

	s.writeSnapshotLocked(ctx, roomID, session, domain.SnapshotBackup)

	currentState, err := session.doc.Encode()
	if err != nil {
		return &ApplyOutcome{ConflictFailed: true}, nil
	}
	scratch := crdt.NewDocument()
	if err := scratch.ApplyUpdate(currentState); err == nil {
		if err := scratch.ApplyUpdate(failing); err == nil {
			session.doc = scratch
			merged, encErr := scratch.Encode()
			if encErr == nil {
				s.persistRoomStateBestEffort(ctx, roomID, scratch)
				return &ApplyOutcome{ConflictResolved: true, ResolvedState: merged}, nil
			}
		}
	}

	restored, err := s.restoreDocument(ctx, roomID)
	if err != nil {
		return &ApplyOutcome{ConflictFailed: true}, nil
	}
	session.doc = restored
	return &ApplyOutcome{ConflictFailed: true}, nil
}

func (s *CollaborationService) recordUpdateBestEffort(ctx context.Context, roomID string, sequence uint64, update []byte, origin string) {
	row := domain.RoomUpdate{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Sequence: sequence,
		Update:   update,
		Origin:   origin,
	}
	if err := s.updates.Append(ctx, row); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Debug("best-effort update history append failed")
	}
}

// debounceWritebackLocked caches the latest encoded state at most once per debounceInterval,
// using Redis SetNX as a distributed gate so the MySQL write-through only happens when the
// gate is won.
func (s *CollaborationService) debounceWritebackLocked(ctx context.Context, roomID string, session *roomSession) {
	if time.Since(session.lastDebounceFlush) < s.debounceInterval {
		return
	}
	encoded, err := session.doc.Encode()
	if err != nil {
		return
	}
	won, err := s.state.CacheCrdtState(ctx, roomID, encoded, s.debounceInterval)
	if err != nil || !won {
		return
	}
	session.lastDebounceFlush = time.Now()
	if err := s.rooms.UpdateSnapshot(ctx, roomID, session.doc.Text(), encoded); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("debounced room snapshot write-back failed")
	}
}

func (s *CollaborationService) persistRoomStateBestEffort(ctx context.Context, roomID string, doc *crdt.Document) {
	encoded, err := doc.Encode()
	if err != nil {
		return
	}
	if err := s.rooms.UpdateSnapshot(ctx, roomID, doc.Text(), encoded); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("conflict-resolution state persist failed")
	}
}

// CreateSnapshot writes a Snapshot row of the requested kind and prunes beyond the
// retention cap. Safe to call from outside the apply lane (acquires it internally).
func (s *CollaborationService) CreateSnapshot(ctx context.Context, roomID string, kind domain.SnapshotKind) error {
	if _, err := s.InitializeDocument(ctx, roomID); err != nil {
		return err
	}
	session, _ := s.session(roomID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return s.writeSnapshotLocked(ctx, roomID, session, kind)
}

func (s *CollaborationService) writeSnapshotLocked(ctx context.Context, roomID string, session *roomSession, kind domain.SnapshotKind) error {
	content := session.doc.Text()
	if content == "" && kind == domain.SnapshotAuto {
		return nil
	}
	encoded, err := session.doc.Encode()
	if err != nil {
		return InternalError("encode document for snapshot", err)
	}
	snapshot := &domain.Snapshot{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Content:   content,
		CrdtState: encoded,
		Kind:      kind,
	}
	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		return InternalError("save snapshot", err)
	}
	if err := s.snapshots.PruneOldest(ctx, roomID, domain.MaxSnapshotsPerRoom); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("snapshot prune failed")
	}
	return nil
}

// ValidateIntegrity encodes/decodes roomId's document and reports warnings/errors.
func (s *CollaborationService) ValidateIntegrity(ctx context.Context, roomID string) ([]string, error) {
	doc, err := s.InitializeDocument(ctx, roomID)
	if err != nil {
		return nil, err
	}
	warnings, err := crdt.ValidateIntegrity(doc)
	if err != nil {
		return nil, IntegrityError(err.Error())
	}
	return warnings, nil
}

func (s *CollaborationService) runPeriodicSnapshot(roomID string, session *roomSession) {
	ticker := time.NewTicker(s.periodicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			session.mu.Lock()
			if session.doc.Text() != "" {
				if err := s.writeSnapshotLocked(context.Background(), roomID, session, domain.SnapshotAuto); err != nil {
					logrus.WithField("room_id", roomID).WithError(err).Warn("periodic snapshot failed")
				}
			}
			session.mu.Unlock()
		case <-session.stop:
			return
		}
	}
}

// CleanupRoom cancels the room's periodic timer and removes its document from the
// registry. Call before archival or once a room has been empty long enough.
func (s *CollaborationService) CleanupRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[roomID]
	if !ok {
		return
	}
	close(session.stop)
	delete(s.sessions, roomID)
}

// PruneInactiveSessions releases the in-memory document/session state for every room
// currently held in memory that is absent from activeRoomIDs, called by the Background
// Supervisor's lifecycle sweep once the hub reports no live connections for a room.
// Returns the pruned room IDs so the caller can release the same rooms' presence state.
func (s *CollaborationService) PruneInactiveSessions(activeRoomIDs []string) []string {
	active := make(map[string]struct{}, len(activeRoomIDs))
	for _, id := range activeRoomIDs {
		active[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned []string
	for roomID, session := range s.sessions {
		if _, ok := active[roomID]; ok {
			continue
		}
		close(session.stop)
		delete(s.sessions, roomID)
		pruned = append(pruned, roomID)
	}
	return pruned
}
