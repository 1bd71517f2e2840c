package domain

import "time"

// Call statuses. Pending and accepted calls are "active".
const (
	CallStatusPending  = "pending"
	CallStatusAccepted = "accepted"
	CallStatusDeclined = "declined"
	CallStatusEnded    = "ended"
	CallStatusMissed   = "missed"
)

// Call media types.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// CallSession is a one-to-one call between the two participants of a chat.
//
// StartedAt is set when the callee accepts; EndedAt when the call leaves the
// active set. DurationSec is computed on end (0 when never started).
type CallSession struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	ChatID      string     `json:"chat_id"      gorm:"type:varchar(64);not null;index"`
	RoomID      string     `json:"room_id"      gorm:"type:varchar(80);not null"`
	CallerID    string     `json:"caller_id"    gorm:"type:varchar(64);not null;index:idx_call_caller"`
	CalleeID    string     `json:"callee_id"    gorm:"type:varchar(64);not null;index:idx_call_callee"`
	CallType    string     `json:"call_type"    gorm:"type:varchar(8);not null;default:'audio';check:call_type IN ('audio','video')"`
	Status      string     `json:"status"       gorm:"type:varchar(16);not null;index;check:status IN ('pending','accepted','declined','ended','missed')"`
	CreatedAt   time.Time  `json:"created_at"   gorm:"index"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationSec int64      `json:"duration_sec" gorm:"not null;default:0"`
}

// TableName returns the database table name for CallSession.
func (CallSession) TableName() string { return "call_sessions" }

// IsActive reports whether the call still holds its participants.
func (c *CallSession) IsActive() bool {
	return c.Status == CallStatusPending || c.Status == CallStatusAccepted
}

// HasParticipant reports whether userID is the caller or the callee.
func (c *CallSession) HasParticipant(userID string) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// Peer returns the other participant of the call.
func (c *CallSession) Peer(userID string) string {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}

// ActiveCallLock marks a user as busy with an active call. UserID is the
// primary key, so inserting a lock for a user that already holds one fails
// with a unique-constraint violation; call creation relies on that to stay
// atomic under concurrent initiations.
type ActiveCallLock struct {
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	CallID    string    `gorm:"type:char(36);not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for ActiveCallLock.
func (ActiveCallLock) TableName() string { return "active_call_locks" }
