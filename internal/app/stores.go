package app

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/repo"
)

// The shims below bind the repo free functions to one *gorm.DB so the
// services never see the database handle.

// presenceStore implements services.PresenceStore.
type presenceStore struct{ db *gorm.DB }

func (s presenceStore) MarkOnline(ctx context.Context, userID, username, handle string, at time.Time) error {
	return repo.MarkOnline(ctx, s.db, userID, username, handle, at)
}

func (s presenceStore) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	return repo.MarkOffline(ctx, s.db, userID, at)
}

func (s presenceStore) TouchPresence(ctx context.Context, userID string, at time.Time) error {
	return repo.TouchPresence(ctx, s.db, userID, at)
}

func (s presenceStore) FindPresence(ctx context.Context, ids []string) ([]domain.User, error) {
	return repo.FindPresence(ctx, s.db, ids)
}

func (s presenceStore) ResetOnline(ctx context.Context, keep []string) (int64, error) {
	return repo.ResetOnline(ctx, s.db, keep)
}

// chatDirectory implements services.ChatDirectory.
type chatDirectory struct{ db *gorm.DB }

func (d chatDirectory) Participants(ctx context.Context, chatID string) ([]string, error) {
	return repo.ListParticipants(ctx, d.db, chatID)
}

func (d chatDirectory) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	return repo.IsParticipant(ctx, d.db, chatID, userID)
}

// messageStore implements services.MessageStore.
type messageStore struct{ db *gorm.DB }

func (s messageStore) CreateMessage(ctx context.Context, chatID, senderID, msgType, content string) (*domain.Message, error) {
	return repo.CreateMessage(ctx, s.db, chatID, senderID, msgType, content)
}

func (s messageStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return repo.GetMessage(ctx, s.db, id)
}

// callStore implements services.CallStore.
type callStore struct{ db *gorm.DB }

func (s callStore) CreateCall(ctx context.Context, call *domain.CallSession) error {
	return repo.CreateCall(ctx, s.db, call)
}

func (s callStore) GetCall(ctx context.Context, id string) (*domain.CallSession, error) {
	return repo.GetCall(ctx, s.db, id)
}

func (s callStore) UpdateCallStatus(ctx context.Context, id string, from []string, u repo.CallUpdate) (*domain.CallSession, error) {
	return repo.UpdateCallStatus(ctx, s.db, id, from, u)
}

func (s callStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.CallSession, error) {
	return repo.ListPendingBefore(ctx, s.db, cutoff)
}

func (s callStore) CountCalls(ctx context.Context, userID string) (int64, error) {
	return repo.CountCalls(ctx, s.db, userID)
}

func (s callStore) ListCallsPage(ctx context.Context, userID string, offset, limit int) ([]domain.CallSession, error) {
	return repo.ListCallsPage(ctx, s.db, userID, offset, limit)
}

// storeStats implements handlers.StoreStats.
type storeStats struct{ db *gorm.DB }

func (s storeStats) CallsStats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.CallsStats(ctx, s.db, userID)
}

func (s storeStats) CountOnline(ctx context.Context) (int64, error) {
	return repo.CountOnline(ctx, s.db)
}
