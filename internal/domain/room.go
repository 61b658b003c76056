package domain

import "time"

// Room is a collaboration room: one shared document plus its sandbox job history.
type Room struct {
	ID               string    `gorm:"primaryKey;size:36"`
	JoinKey          string    `gorm:"uniqueIndex;size:12;not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index"`
	LastActivity     time.Time `gorm:"index"`
	IsArchived       bool      `gorm:"not null;default:false"`
	ParticipantCount int       `gorm:"not null;default:0"`
	CodeSnapshot     string    `gorm:"type:longtext"`
	CrdtState        []byte    `gorm:"type:longblob"`
}

func (Room) TableName() string { return "rooms" }

// JoinKeyPattern is the invariant every generated or accepted join key must satisfy.
const JoinKeyPattern = `^[A-Z0-9]{12}$`

// Participant is one row per (room, user); userId is an opaque caller-supplied string.
type Participant struct {
	ID           string `gorm:"primaryKey;size:36"`
	RoomID       string `gorm:"uniqueIndex:idx_room_user;size:36;not null;index"`
	UserID       string `gorm:"uniqueIndex:idx_room_user;size:191;not null;index"`
	JoinedAt     time.Time
	LastSeen     time.Time `gorm:"index"`
	IsActive     bool      `gorm:"not null;default:true"`
	CursorLine   *int      `gorm:"column:cursor_line"`
	CursorColumn *int      `gorm:"column:cursor_column"`
	Color        string    `gorm:"size:7;not null"`
}

func (Participant) TableName() string { return "participants" }

// ColorPalette is the fixed 10-entry palette participants are assigned from, in order.
var ColorPalette = [10]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}
