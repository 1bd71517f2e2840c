// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the presence queries over the users table.
//
// The users table is shared with external profile/auth collaborators, so
// every write here targets presence columns only (is_online, last_seen,
// session_handle, plus username when the caller supplies one). Whole-record
// saves are never issued.
//
// Functions:
//
//   - MarkOnline(ctx, db, userID, username, handle, at) -> error
//     Upserts the presence columns; creates the row lazily on first connect.
//
//   - MarkOffline(ctx, db, userID, at) -> error
//     Flips is_online=false, clears the session handle, stamps last_seen.
//
//   - TouchPresence(ctx, db, userID, at) -> error
//     Updates last_seen only.
//
//   - FindPresence(ctx, db, ids) -> []domain.User, error
//     Batch read projected to id, username, is_online, last_seen.
//
//   - ResetOnline(ctx, db, keep) -> (int64, error)
//     Flips every online row not in keep to offline (startup reconciliation).
//
//   - CountOnline(ctx, db) -> (int64, error)
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// MarkOnline records that userID is online through session handle at time at.
//
// It inserts the row when missing and otherwise updates only presence
// columns. The username is written only when non-empty so an anonymous
// reconnect cannot blank a label managed elsewhere.
func MarkOnline(ctx context.Context, db *gorm.DB, userID, username, handle string, at time.Time) error {
	u := &domain.User{
		ID:            userID,
		Username:      username,
		IsOnline:      true,
		LastSeen:      &at,
		SessionHandle: &handle,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	cols := []string{"is_online", "last_seen", "session_handle", "updated_at"}
	if username != "" {
		cols = append(cols, "username")
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(u).Error
}

// MarkOffline flips userID offline and clears its session handle. A missing
// row is not an error: there is nothing left to flip.
func MarkOffline(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_online":      false,
			"last_seen":      at,
			"session_handle": nil,
		}).Error
}

// TouchPresence refreshes last_seen for userID.
func TouchPresence(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("last_seen", at).Error
}

// FindPresence loads the presence projection for ids in a single query.
// Unknown ids are simply absent from the result.
func FindPresence(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	var out []domain.User
	err := db.WithContext(ctx).
		Select("id", "username", "is_online", "last_seen").
		Where("id IN ?", ids).
		Find(&out).Error
	return out, err
}

// ResetOnline marks every online row whose id is not in keep as offline and
// returns the number of rows changed. last_seen is left as recorded.
func ResetOnline(ctx context.Context, db *gorm.DB, keep []string) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("is_online = ?", true)
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	res := q.Updates(map[string]any{
		"is_online":      false,
		"session_handle": nil,
	})
	return res.RowsAffected, res.Error
}

// CountOnline returns how many users the store currently flags as online.
func CountOnline(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("is_online = ?", true).
		Count(&n).Error
	return n, err
}
