// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) on the call history endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// CallsStats returns the number of calls userID took part in and the most
// recent change stamp among them (the greatest of created_at, started_at and
// ended_at). When the user has no calls it returns (0, nil, nil).
func CallsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, lastChange *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.CallSession{}).
		Where("caller_id = ? OR callee_id = ?", userID, userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() over timestamps: SQLite returns TEXT for aggregates.
	var rows []struct {
		CreatedAt time.Time
		StartedAt *time.Time
		EndedAt   *time.Time
	}
	if err = q.Select("created_at", "started_at", "ended_at").
		Order("created_at DESC").
		Limit(50).
		Scan(&rows).Error; err != nil {
		return 0, nil, err
	}
	var latest time.Time
	for _, r := range rows {
		for _, ts := range []*time.Time{&r.CreatedAt, r.StartedAt, r.EndedAt} {
			if ts != nil && ts.After(latest) {
				latest = *ts
			}
		}
	}
	return count, &latest, nil
}
