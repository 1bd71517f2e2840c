// Package domain defines the persistence models for users' presence, chats,
// chat participants, messages and call sessions. These types are mapped with
// GORM and shared by the repository and service layers.
//
// The presence core writes only the presence columns of User (is_online,
// last_seen, session_handle); every other column belongs to the external
// profile/auth collaborators that share the same table.
package domain

import (
	"time"
)

// User is the durable presence record of a user.
//
// Fields:
//   - ID: opaque user identifier issued by the auth collaborator.
//   - Username: display label, denormalized for fast status lookups.
//   - IsOnline: true only while a live session is tracked in memory.
//   - LastSeen: updated on connect, on each heartbeat, and on disconnect.
//   - SessionHandle: transport handle of the current session (nil when offline).
type User struct {
	ID            string     `json:"id"             gorm:"type:varchar(64);primaryKey"`
	Username      string     `json:"username"       gorm:"type:varchar(255);not null;default:''"`
	IsOnline      bool       `json:"is_online"      gorm:"not null;default:false;index:idx_users_online"`
	LastSeen      *time.Time `json:"last_seen"`
	SessionHandle *string    `json:"-"              gorm:"type:varchar(128)"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chat is a conversation. Chats are created by external collaborators; the
// presence core only resolves their participants.
type Chat struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null;default:''"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// ChatParticipant links a user to a chat. The (chat_id, user_id) pair is the
// primary key, so a user appears at most once per chat.
type ChatParticipant struct {
	ChatID   string    `json:"chat_id"   gorm:"type:varchar(64);primaryKey"`
	UserID   string    `json:"user_id"   gorm:"type:varchar(64);primaryKey;index:idx_participant_user"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatParticipant.
func (ChatParticipant) TableName() string { return "chat_participants" }

// Message types accepted on the socket send path.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Message is a chat message persisted by the socket send path before it is
// fanned out to the chat room.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string    `json:"chat_id"    gorm:"type:varchar(64);not null;index:idx_chat_msgs,priority:1"`
	SenderID  string    `json:"sender_id"  gorm:"type:varchar(64);not null"`
	Type      string    `json:"type"       gorm:"type:varchar(16);not null;default:'text';check:type IN ('text','image','file','system')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_chat_msgs,priority:2"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
