package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector(t *testing.T, bus *EventBus, opts ...CollectorOption) (*MetricsCollector, *fakeClock, *MemoryUsage) {
	t.Helper()
	clock := newFakeClock()
	mem := &MemoryUsage{HeapAlloc: 10 << 20}
	all := append([]CollectorOption{
		WithCollectorClock(clock.Now),
		WithMemoryReader(func() MemoryUsage { return *mem }),
	}, opts...)
	mc := NewMetricsCollector(bus, all...)
	t.Cleanup(mc.Close)
	return mc, clock, mem
}

func TestRecordConnection_TotalsActivePeak(t *testing.T) {
	mc, _, _ := newTestCollector(t, nil)

	mc.RecordConnection("u1", ActionConnect)
	mc.RecordConnection("u2", ActionConnect)
	mc.RecordConnection("u1", ActionDisconnect)
	mc.RecordConnection("u3", ActionConnect)
	mc.RecordConnection("u9", "bogus")

	c := mc.Connections()
	if c.Total != 3 || c.Active != 2 || c.Peak != 2 {
		t.Fatalf("unexpected counters: %+v", c)
	}

	// Active never goes below zero.
	for i := 0; i < 5; i++ {
		mc.RecordConnection("x", ActionDisconnect)
	}
	if c := mc.Connections(); c.Active != 0 {
		t.Fatalf("active went negative: %+v", c)
	}
}

func TestRecordMessage_PerMinuteAndCap(t *testing.T) {
	mc, clock, _ := newTestCollector(t, nil)
	for i := 0; i < 1000; i++ {
		mc.RecordMessage("chat_c1", "u1", "text")
		if i%20 == 0 {
			clock.Advance(time.Second)
		}
	}
	d := mc.Dashboard()
	if d.Messages.PerMinute != 1000 || d.Messages.Total != 1000 {
		t.Fatalf("perMinute=%d total=%d, want 1000", d.Messages.PerMinute, d.Messages.Total)
	}

	small, _, _ := newTestCollector(t, nil, WithHistorySize(100))
	for i := 0; i < 1000; i++ {
		small.RecordMessage("chat_c1", "u1", "text")
		if h := small.Stats().History.Messages; h > 100 {
			t.Fatalf("history exceeded cap: %d", h)
		}
	}
	if s := small.Stats(); s.Messages.Total != 1000 || s.History.Messages != 100 {
		t.Fatalf("unexpected stats: total=%d history=%d", s.Messages.Total, s.History.Messages)
	}
}

func TestMessages_TrailingWindows(t *testing.T) {
	mc, clock, _ := newTestCollector(t, nil)
	mc.RecordMessage("chat_c1", "u1", "text")
	clock.Advance(2 * time.Minute)
	mc.RecordMessage("chat_c1", "u1", "text")
	mc.RecordMessage("chat_c1", "u1", "image")

	m := mc.Messages()
	if m.PerMinute != 2 || m.PerHour != 3 {
		t.Fatalf("perMinute=%d perHour=%d", m.PerMinute, m.PerHour)
	}
	clock.Advance(time.Hour)
	if m := mc.Messages(); m.PerMinute != 0 || m.PerHour != 0 || m.Total != 3 {
		t.Fatalf("after an hour: %+v", m)
	}
}

func TestMessages_WindowBoundaries(t *testing.T) {
	cases := []struct {
		name               string
		age                time.Duration
		perMinute, perHour int
	}{
		{"just inside a minute", time.Minute - time.Second, 1, 1},
		{"exactly a minute old", time.Minute, 0, 1},
		{"just inside an hour", time.Hour - time.Second, 0, 1},
		{"exactly an hour old", time.Hour, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mc, clock, _ := newTestCollector(t, nil)
			mc.RecordMessage("chat_c1", "u1", "text")
			clock.Advance(tc.age)
			m := mc.Messages()
			if m.PerMinute != tc.perMinute || m.PerHour != tc.perHour || m.Total != 1 {
				t.Fatalf("%+v, want perMinute=%d perHour=%d", m, tc.perMinute, tc.perHour)
			}
		})
	}
}

func TestPrune_RetentionWindow(t *testing.T) {
	mc, clock, _ := newTestCollector(t, nil, WithRetention(time.Hour))
	mc.RecordConnection("u1", ActionConnect)
	mc.RecordMessage("chat_c1", "u1", "text")
	mc.RecordError(ErrUnauthorized, nil)

	clock.Advance(61 * time.Minute)
	mc.RecordMessage("chat_c1", "u1", "text")
	mc.Prune()

	s := mc.Stats()
	if s.History.Connections != 0 || s.History.Messages != 1 || s.History.Errors != 0 {
		t.Fatalf("unexpected history after prune: %+v", s.History)
	}
	if s.Messages.Total != 2 || s.Errors.Total != 1 || s.Connections.Total != 1 {
		t.Fatalf("totals must survive pruning: %+v", s)
	}
}

func TestRecordError_ByKindAndEvent(t *testing.T) {
	bus := NewEventBus()
	events := &eventLog{}
	bus.Subscribe(events.listen)
	mc, _, _ := newTestCollector(t, bus)

	base := testutil.ToFloat64(promErrors.WithLabelValues("call_already_active"))

	mc.RecordError(ErrCallAlreadyActive, map[string]string{"op": "initiate_call"})
	mc.RecordError(fmt.Errorf("wrapped: %w", ErrCallAlreadyActive), nil)
	mc.RecordError(ErrTargetOffline, nil)
	mc.RecordError(nil, nil)

	e := mc.Errors()
	if e.Total != 3 || e.ByType["call_already_active"] != 2 || e.ByType["target_offline"] != 1 {
		t.Fatalf("unexpected error counters: %+v", e)
	}
	evs := events.ofType(EventError)
	if len(evs) != 3 || evs[0].Context["op"] != "initiate_call" {
		t.Fatalf("unexpected error events: %+v", evs)
	}
	if got := testutil.ToFloat64(promErrors.WithLabelValues("call_already_active")); got != base+2 {
		t.Fatalf("prometheus errors = %v, want %v", got, base+2)
	}

	d := mc.Dashboard()
	if len(d.Errors.Recent) != 3 || d.Errors.Recent[0].Type != "target_offline" {
		t.Fatalf("recent errors should be newest first: %+v", d.Errors.Recent)
	}
}

func TestCollector_CountsBusTransitions(t *testing.T) {
	store := newFakeStore()
	bus := NewEventBus()
	mc, _, _ := newTestCollector(t, bus)
	m := NewPresenceManager(store, bus)
	ctx := context.Background()

	base := testutil.ToFloat64(promConnsTotal)

	_, _ = m.UserConnected(ctx, "u1", "s1", "")
	_, _ = m.UserConnected(ctx, "u2", "s2", "")
	_, _ = m.UserConnected(ctx, "u1", "s3", "") // session swap, u1 stays connected
	if c := mc.Connections(); c.Active != 2 || c.Total != 2 {
		t.Fatalf("replacement must not count as a connection: %+v", c)
	}
	_, _ = m.UserDisconnected(ctx, "u2")

	c := mc.Connections()
	if c.Active != 1 || c.Total != 2 || c.Peak != 2 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if got := testutil.ToFloat64(promConnsTotal); got != base+2 {
		t.Fatalf("prometheus connections_total = %v, want %v", got, base+2)
	}

	mc.Close()
	_, _ = m.UserDisconnected(ctx, "u1")
	if mc.Connections().Active != 1 {
		t.Fatalf("closed collector must stop counting")
	}
}

func TestRecordDelivery_OnlyDrops(t *testing.T) {
	mc, _, _ := newTestCollector(t, nil)
	base := testutil.ToFloat64(promDropped)
	mc.RecordDelivery(false)
	mc.RecordDelivery(true)
	mc.RecordDelivery(true)
	if mc.Dropped() != 2 {
		t.Fatalf("dropped = %d", mc.Dropped())
	}
	if got := testutil.ToFloat64(promDropped); got != base+2 {
		t.Fatalf("prometheus dropped = %v, want %v", got, base+2)
	}
}

func TestHealthStatus_PenaltiesAndLabels(t *testing.T) {
	t.Run("fresh process is excellent", func(t *testing.T) {
		mc, _, _ := newTestCollector(t, nil)
		h := mc.HealthStatus()
		if h.Score != 100 || h.Status != HealthExcellent || len(h.Issues) != 0 {
			t.Fatalf("unexpected health: %+v", h)
		}
	})

	t.Run("no active after connections costs 10", func(t *testing.T) {
		mc, _, _ := newTestCollector(t, nil)
		mc.RecordConnection("u1", ActionConnect)
		mc.RecordConnection("u1", ActionDisconnect)
		h := mc.HealthStatus()
		if h.Score != 90 || h.Status != HealthExcellent {
			t.Fatalf("unexpected health: %+v", h)
		}
	})

	t.Run("memory above threshold costs 20", func(t *testing.T) {
		mc, _, mem := newTestCollector(t, nil, WithMemoryThreshold(100<<20))
		mem.HeapAlloc = 101 << 20
		h := mc.HealthStatus()
		if h.Score != 80 || h.Status != HealthGood || len(h.Issues) != 1 {
			t.Fatalf("unexpected health: %+v", h)
		}
	})

	t.Run("error rate above one percent costs 30", func(t *testing.T) {
		mc, _, _ := newTestCollector(t, nil)
		for i := 0; i < 100; i++ {
			mc.RecordMessage("chat_c1", "u1", "text")
		}
		mc.RecordError(ErrUnauthorized, nil) // exactly 1%: no penalty
		if h := mc.HealthStatus(); h.Score != 100 {
			t.Fatalf("1%% error rate must not be penalized: %+v", h)
		}
		mc.RecordError(ErrUnauthorized, nil)
		h := mc.HealthStatus()
		if h.Score != 70 || h.Status != HealthGood {
			t.Fatalf("unexpected health: %+v", h)
		}
	})

	t.Run("all penalties is critical", func(t *testing.T) {
		mc, _, mem := newTestCollector(t, nil, WithMemoryThreshold(1))
		mem.HeapAlloc = 2
		mc.RecordConnection("u1", ActionConnect)
		mc.RecordConnection("u1", ActionDisconnect)
		mc.RecordError(ErrTargetOffline, nil) // errors with zero messages
		h := mc.HealthStatus()
		if h.Score != 40 || h.Status != HealthCritical || len(h.Issues) != 3 {
			t.Fatalf("unexpected health: %+v", h)
		}
	})
}

func TestHealthLabel_Thresholds(t *testing.T) {
	cases := map[int]string{
		100: HealthExcellent, 90: HealthExcellent, 89: HealthGood, 70: HealthGood,
		69: HealthWarning, 50: HealthWarning, 49: HealthCritical, 0: HealthCritical,
	}
	for score, want := range cases {
		if got := healthLabel(score); got != want {
			t.Errorf("healthLabel(%d) = %q, want %q", score, got, want)
		}
	}
}

func TestDashboard_RecentConnectionsLimit(t *testing.T) {
	mc, clock, _ := newTestCollector(t, nil)
	for i := 0; i < 30; i++ {
		mc.RecordConnection(fmt.Sprintf("u%d", i), ActionConnect)
		clock.Advance(time.Second)
	}
	d := mc.Dashboard()
	if len(d.Connections.Recent) != 20 || d.Connections.Recent[0].UserID != "u29" {
		t.Fatalf("unexpected recent connections: len=%d first=%+v", len(d.Connections.Recent), d.Connections.Recent[0])
	}
	if d.Overview.ActiveConnections != 30 || d.Connections.Peak != 30 {
		t.Fatalf("unexpected overview: %+v", d.Overview)
	}
	if d.Overview.UptimeSeconds != 30 {
		t.Fatalf("uptime = %d, want 30", d.Overview.UptimeSeconds)
	}
}
