// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the chat membership queries the room
// router uses to resolve delivery targets and call legality.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChat inserts a chat together with its participants in one
// transaction. Chats are normally owned by external collaborators; this is
// used for seeding and tests.
func CreateChat(ctx context.Context, db *gorm.DB, id, title string, participants ...string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := &domain.Chat{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		for _, uid := range participants {
			p := &domain.ChatParticipant{ChatID: id, UserID: uid, JoinedAt: now}
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListParticipants returns the user ids of chatID's participants ordered by
// join time. It returns ErrNotFound when the chat does not exist.
func ListParticipants(ctx context.Context, db *gorm.DB, chatID string) ([]string, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", chatID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("joined_at asc, user_id asc").
		Pluck("user_id", &ids).Error
	return ids, err
}

// IsParticipant reports whether userID belongs to chatID.
func IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}
