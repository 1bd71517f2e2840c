package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

func TestCreateChat_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	chat, err := CreateChat(context.Background(), db, "c1", "t", "u1")
	if err == nil || chat != nil {
		t.Fatalf("expected error creating without table, got chat=%v err=%v", chat, err)
	}
}

func TestCreateChat_RollsBackOnDuplicateParticipant(t *testing.T) {
	db := newTestDB(t, &domain.Chat{}, &domain.ChatParticipant{})
	if _, err := CreateChat(context.Background(), db, "c1", "t", "u1", "u1"); err == nil {
		t.Fatalf("expected duplicate participant error")
	}
	var n int64
	db.Model(&domain.Chat{}).Count(&n)
	if n != 0 {
		t.Fatalf("chat row should have been rolled back, found %d", n)
	}
}

func TestListParticipants(t *testing.T) {
	db := newTestDB(t, &domain.Chat{}, &domain.ChatParticipant{})
	ctx := context.Background()

	if _, err := ListParticipants(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := CreateChat(ctx, db, "c1", "pair", "u2", "u1"); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := CreateChat(ctx, db, "c2", "empty"); err != nil {
		t.Fatalf("CreateChat empty: %v", err)
	}

	ids, err := ListParticipants(ctx, db, "c1")
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	// Same joined_at; ties broken by user_id.
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Fatalf("unexpected participants: %v", ids)
	}

	ids, err = ListParticipants(ctx, db, "c2")
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty chat: ids=%v err=%v", ids, err)
	}
}

func TestIsParticipant(t *testing.T) {
	db := newTestDB(t, &domain.Chat{}, &domain.ChatParticipant{})
	ctx := context.Background()
	if _, err := CreateChat(ctx, db, "c1", "pair", "u1", "u2"); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if ok, err := IsParticipant(ctx, db, "c1", "u1"); err != nil || !ok {
		t.Fatalf("u1 should be a participant: ok=%v err=%v", ok, err)
	}
	if ok, err := IsParticipant(ctx, db, "c1", "u3"); err != nil || ok {
		t.Fatalf("u3 should not be a participant: ok=%v err=%v", ok, err)
	}
}
