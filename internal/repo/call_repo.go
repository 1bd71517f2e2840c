// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for call sessions.
//
// One-active-call-per-user is enforced by the active_call_locks table, whose
// primary key is the user id. CreateCall inserts a lock for both parties and
// the call row inside one transaction; if either party already holds a lock
// the insert violates the primary key, the transaction rolls back, and
// ErrDuplicate is returned. Because the database arbitrates, two concurrent
// initiations for the same user can never both succeed.
//
// Status changes are compare-and-set: UpdateCallStatus only applies when the
// row is still in one of the expected statuses, and returns ErrStaleStatus
// otherwise. Leaving the active set releases the locks in the same
// transaction.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// ErrStaleStatus is returned when a call is no longer in an expected status.
var ErrStaleStatus = errors.New("call status changed")

// CallUpdate is the set of columns a status transition writes.
type CallUpdate struct {
	Status      string
	StartedAt   *time.Time
	EndedAt     *time.Time
	DurationSec *int64
}

// CreateCall inserts call and locks both participants atomically. It
// returns ErrDuplicate when either participant already has an active call.
func CreateCall(ctx context.Context, db *gorm.DB, call *domain.CallSession) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, uid := range []string{call.CallerID, call.CalleeID} {
			lock := &domain.ActiveCallLock{UserID: uid, CallID: call.ID, CreatedAt: call.CreatedAt}
			if err := tx.Create(lock).Error; err != nil {
				if isDuplicate(err) {
					return ErrDuplicate
				}
				return err
			}
		}
		return tx.Create(call).Error
	})
}

// GetCall fetches a call by id, or ErrNotFound.
func GetCall(ctx context.Context, db *gorm.DB, id string) (*domain.CallSession, error) {
	var c domain.CallSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCallStatus moves call id from one of the from statuses to u.Status
// and returns the updated row. When the new status is terminal the
// participants' locks are released in the same transaction.
func UpdateCallStatus(ctx context.Context, db *gorm.DB, id string, from []string, u CallUpdate) (*domain.CallSession, error) {
	var out domain.CallSession
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": u.Status}
		if u.StartedAt != nil {
			updates["started_at"] = *u.StartedAt
		}
		if u.EndedAt != nil {
			updates["ended_at"] = *u.EndedAt
		}
		if u.DurationSec != nil {
			updates["duration_sec"] = *u.DurationSec
		}
		res := tx.Model(&domain.CallSession{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&domain.CallSession{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrStaleStatus
		}
		if !isActiveStatus(u.Status) {
			if err := tx.Where("call_id = ?", id).Delete(&domain.ActiveCallLock{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPendingBefore returns pending calls created before cutoff, oldest first.
func ListPendingBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.CallSession, error) {
	var out []domain.CallSession
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.CallStatusPending, cutoff).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountCalls returns the number of calls userID took part in.
func CountCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CallSession{}).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Count(&n).Error
	return n, err
}

// ListCallsPage returns a page of userID's calls, most recent first.
func ListCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.CallSession, error) {
	var out []domain.CallSession
	err := db.WithContext(ctx).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func isActiveStatus(s string) bool {
	return s == domain.CallStatusPending || s == domain.CallStatusAccepted
}
