package repo

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

func openFile(t *testing.T, opts Options) *gorm.DB {
	t.Helper()
	if opts.DSN == "" {
		opts.DSN = filepath.Join(t.TempDir(), "presence.db")
	}
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open(%+v): %v", opts, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "missing", "presence.db")
	if db, err := OpenSQLite(bad); err == nil || db != nil {
		t.Fatalf("expected an error for %s, got db=%v err=%v", bad, db, err)
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	db := openFile(t, Options{Driver: DriverSQLite})

	cases := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, tc := range cases {
		var got string
		if err := db.Raw("PRAGMA " + tc.pragma + ";").Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", tc.pragma, err)
		}
		if strings.ToLower(got) != tc.want {
			t.Errorf("PRAGMA %s = %q, want %q", tc.pragma, got, tc.want)
		}
	}

	sqlDB, _ := db.DB()
	if n := sqlDB.Stats().MaxOpenConnections; n != sqlitePool.maxOpen {
		t.Fatalf("MaxOpenConnections = %d, want %d", n, sqlitePool.maxOpen)
	}
}

func TestAutoMigrate_CreatesPresenceSchema(t *testing.T) {
	db := openFile(t, Options{})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// Running it again on an up-to-date schema is a no-op.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	m := db.Migrator()
	for _, model := range []any{
		&domain.User{}, &domain.Chat{}, &domain.ChatParticipant{},
		&domain.Message{}, &domain.CallSession{}, &domain.ActiveCallLock{},
	} {
		if !m.HasTable(model) {
			t.Errorf("missing table for %T", model)
		}
	}

	ctx := context.Background()
	if _, err := CreateChat(ctx, db, "c1", "t", "u1", "u2"); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := MarkOnline(ctx, db, "u1", "alice", "h1", time.Now().UTC()); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if n, err := CountOnline(ctx, db); err != nil || n != 1 {
		t.Fatalf("CountOnline = %d, %v", n, err)
	}
}

func TestOpen_Drivers(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want error
	}{
		{"unknown driver", Options{Driver: "mysql", DSN: "x"}, ErrUnknownDriver},
		{"blank postgres dsn", Options{Driver: DriverPostgres, DSN: "  "}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.opts)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("mixed-case sqlite with tracing", func(t *testing.T) {
		db := openFile(t, Options{Driver: "SQLite", Tracing: true})
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("AutoMigrate: %v", err)
		}
		if _, err := CountOnline(context.Background(), db); err != nil {
			t.Fatalf("query through traced db: %v", err)
		}
	})
}
