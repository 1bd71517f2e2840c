// Package services – MetricsCollector
//
// MetricsCollector derives observability from presence, message and error
// activity: monotonic counters, three bounded rolling histories and the
// health/stats/dashboard snapshots built from them. Recording is synchronous,
// never returns an error and never lets a panic escape into the caller.
//
// Each history is bounded twice: by count (the oldest record is overwritten
// once the capacity is reached) and by age (records older than the retention
// window are pruned on Prune and before every read).
package services

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-presence/internal/domain"
)

// Defaults for MetricsCollector.
const (
	DefaultHistorySize     = 1000
	DefaultRetention       = 24 * time.Hour
	DefaultMemoryThreshold = 500 << 20 // bytes
)

// Connection actions.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

// ConnectionRecord is one connect or disconnect.
type ConnectionRecord struct {
	UserID            string    `json:"userId"`
	Action            string    `json:"action"`
	Timestamp         time.Time `json:"timestamp"`
	ActiveConnections int64     `json:"activeConnections"`
}

// At implements stamped.
func (r ConnectionRecord) At() time.Time { return r.Timestamp }

// MessageRecord is one routed message.
type MessageRecord struct {
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	MessageType string    `json:"messageType"`
	Timestamp   time.Time `json:"timestamp"`
}

// At implements stamped.
func (r MessageRecord) At() time.Time { return r.Timestamp }

// ErrorRecord is one recorded error.
type ErrorRecord struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// At implements stamped.
func (r ErrorRecord) At() time.Time { return r.Timestamp }

// MemoryUsage is the subset of runtime memory statistics the health check uses.
type MemoryUsage struct {
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapSys    uint64 `json:"heapSys"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

// ReadRuntimeMemory samples runtime.MemStats.
func ReadRuntimeMemory() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryUsage{
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// ConnectionCounters are the connection totals.
type ConnectionCounters struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
	Peak   int64 `json:"peak"`
}

// MessageCounters are the message totals; the rates are computed on read.
type MessageCounters struct {
	Total     int64 `json:"total"`
	PerMinute int   `json:"perMinute"`
	PerHour   int   `json:"perHour"`
}

// ErrorCounters are the error totals.
type ErrorCounters struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"byType"`
}

// MetricsCollector records activity and produces snapshots. It is safe for
// concurrent use.
type MetricsCollector struct {
	mu sync.Mutex

	conns    ConnectionCounters
	msgTotal int64
	errTotal int64
	errByTyp map[string]int64
	dropped  int64

	connHist *history[ConnectionRecord]
	msgHist  *history[MessageRecord]
	errHist  *history[ErrorRecord]

	bus       *EventBus
	retention time.Duration
	memLimit  uint64
	now       func() time.Time
	readMem   func() MemoryUsage
	started   time.Time
	log       zerolog.Logger
	unsub     func()
}

// CollectorOption configures a MetricsCollector.
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	historySize int
	retention   time.Duration
	memLimit    uint64
	now         func() time.Time
	readMem     func() MemoryUsage
	log         zerolog.Logger
}

// WithHistorySize caps each rolling history.
func WithHistorySize(n int) CollectorOption {
	return func(c *collectorConfig) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithRetention sets the maximum age of history records.
func WithRetention(d time.Duration) CollectorOption {
	return func(c *collectorConfig) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithMemoryThreshold sets the heap size in bytes above which health is
// penalized.
func WithMemoryThreshold(bytes uint64) CollectorOption {
	return func(c *collectorConfig) {
		if bytes > 0 {
			c.memLimit = bytes
		}
	}
}

// WithCollectorClock overrides the time source.
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *collectorConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMemoryReader overrides the memory sampler.
func WithMemoryReader(fn func() MemoryUsage) CollectorOption {
	return func(c *collectorConfig) {
		if fn != nil {
			c.readMem = fn
		}
	}
}

// WithCollectorLogger sets the logger used for recovered panics.
func WithCollectorLogger(l zerolog.Logger) CollectorOption {
	return func(c *collectorConfig) { c.log = l }
}

// NewMetricsCollector builds a collector. When bus is non-nil the collector
// subscribes to presence transitions and counts them.
func NewMetricsCollector(bus *EventBus, opts ...CollectorOption) *MetricsCollector {
	cfg := collectorConfig{
		historySize: DefaultHistorySize,
		retention:   DefaultRetention,
		memLimit:    DefaultMemoryThreshold,
		now:         func() time.Time { return time.Now().UTC() },
		readMem:     ReadRuntimeMemory,
		log:         log.Logger,
	}
	for _, o := range opts {
		o(&cfg)
	}
	mc := &MetricsCollector{
		errByTyp:  make(map[string]int64),
		connHist:  newHistory[ConnectionRecord](cfg.historySize),
		msgHist:   newHistory[MessageRecord](cfg.historySize),
		errHist:   newHistory[ErrorRecord](cfg.historySize),
		bus:       bus,
		retention: cfg.retention,
		memLimit:  cfg.memLimit,
		now:       cfg.now,
		readMem:   cfg.readMem,
		log:       cfg.log,
	}
	mc.started = mc.now()
	if bus != nil {
		mc.unsub = bus.Subscribe(mc.onEvent)
	}
	return mc
}

// Close detaches the collector from the event bus.
func (mc *MetricsCollector) Close() {
	if mc.unsub != nil {
		mc.unsub()
	}
}

func (mc *MetricsCollector) onEvent(ev Event) {
	switch ev.Type {
	case EventUserOnline:
		// a session swap leaves the user connected
		if ev.Reason == ReasonReplaced {
			return
		}
		mc.RecordConnection(ev.UserID, ActionConnect)
	case EventUserOffline:
		mc.RecordConnection(ev.UserID, ActionDisconnect)
	}
}

func (mc *MetricsCollector) guard(op string) {
	if r := recover(); r != nil {
		mc.log.Error().Interface("panic", r).Str("op", op).Msg("metrics recording panicked")
	}
}

// RecordConnection counts a connect or disconnect of userID.
func (mc *MetricsCollector) RecordConnection(userID, action string) {
	defer mc.guard("connection")

	mc.mu.Lock()
	defer mc.mu.Unlock()
	switch action {
	case ActionConnect:
		mc.conns.Total++
		mc.conns.Active++
		if mc.conns.Active > mc.conns.Peak {
			mc.conns.Peak = mc.conns.Active
		}
		promConnsTotal.Inc()
		promConnsActive.Inc()
	case ActionDisconnect:
		if mc.conns.Active > 0 {
			mc.conns.Active--
			promConnsActive.Dec()
		}
	default:
		return
	}
	mc.connHist.push(ConnectionRecord{
		UserID:            userID,
		Action:            action,
		Timestamp:         mc.now(),
		ActiveConnections: mc.conns.Active,
	})
}

// RecordMessage counts a message routed to roomID.
func (mc *MetricsCollector) RecordMessage(roomID, userID, messageType string) {
	defer mc.guard("message")

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.msgTotal++
	mc.msgHist.push(MessageRecord{
		RoomID:      roomID,
		UserID:      userID,
		MessageType: messageType,
		Timestamp:   mc.now(),
	})
	promMessages.WithLabelValues(messageLabel(messageType)).Inc()
}

// RecordError counts err under ErrorKind(err) and publishes an error event.
func (mc *MetricsCollector) RecordError(err error, ctx map[string]string) {
	defer mc.guard("error")
	if err == nil {
		return
	}
	kind := ErrorKind(err)
	now := mc.now()

	var cp map[string]string
	if len(ctx) > 0 {
		cp = make(map[string]string, len(ctx))
		for k, v := range ctx {
			cp[k] = v
		}
	}

	mc.mu.Lock()
	mc.errTotal++
	mc.errByTyp[kind]++
	mc.errHist.push(ErrorRecord{Type: kind, Message: err.Error(), Context: cp, Timestamp: now})
	mc.mu.Unlock()
	promErrors.WithLabelValues(kind).Inc()

	mc.bus.Publish(Event{Type: EventError, Err: err, Context: cp, LastSeen: now})
}

// RecordDelivery counts one delivery outcome. Only drops are tracked.
func (mc *MetricsCollector) RecordDelivery(dropped bool) {
	if !dropped {
		return
	}
	defer mc.guard("delivery")
	mc.mu.Lock()
	mc.dropped++
	mc.mu.Unlock()
	promDropped.Inc()
}

// Prune drops history records older than the retention window.
func (mc *MetricsCollector) Prune() {
	defer mc.guard("prune")
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.pruneLocked()
}

func (mc *MetricsCollector) pruneLocked() {
	cutoff := mc.now().Add(-mc.retention)
	mc.connHist.pruneBefore(cutoff)
	mc.msgHist.pruneBefore(cutoff)
	mc.errHist.pruneBefore(cutoff)
}

// Run prunes every interval until ctx is done.
func (mc *MetricsCollector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mc.Prune()
		}
	}
}

// Connections returns the connection counters.
func (mc *MetricsCollector) Connections() ConnectionCounters {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.conns
}

// Messages returns message totals with the trailing-minute and -hour rates.
func (mc *MetricsCollector) Messages() MessageCounters {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.pruneLocked()
	return mc.messagesLocked()
}

func (mc *MetricsCollector) messagesLocked() MessageCounters {
	now := mc.now()
	return MessageCounters{
		Total:     mc.msgTotal,
		PerMinute: mc.msgHist.countSince(now.Add(-time.Minute)),
		PerHour:   mc.msgHist.countSince(now.Add(-time.Hour)),
	}
}

// Errors returns error totals.
func (mc *MetricsCollector) Errors() ErrorCounters {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.errorsLocked()
}

func (mc *MetricsCollector) errorsLocked() ErrorCounters {
	by := make(map[string]int64, len(mc.errByTyp))
	for k, v := range mc.errByTyp {
		by[k] = v
	}
	return ErrorCounters{Total: mc.errTotal, ByType: by}
}

// Dropped returns the number of dropped deliveries.
func (mc *MetricsCollector) Dropped() int64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.dropped
}

// HistoryLengths is the current size of each rolling history.
type HistoryLengths struct {
	Connections int `json:"connections"`
	Messages    int `json:"messages"`
	Errors      int `json:"errors"`
}

// Stats is the full counter snapshot.
type Stats struct {
	Connections       ConnectionCounters `json:"connections"`
	Messages          MessageCounters    `json:"messages"`
	Errors            ErrorCounters      `json:"errors"`
	DeliveriesDropped int64              `json:"deliveriesDropped"`
	History           HistoryLengths     `json:"history"`
	UptimeSeconds     int64              `json:"uptimeSeconds"`
	Runtime           MemoryUsage        `json:"runtime"`
	StoreOnline       *int64             `json:"storeOnline,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Stats returns the full snapshot.
func (mc *MetricsCollector) Stats() Stats {
	mem := mc.readMem()
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.pruneLocked()
	now := mc.now()
	return Stats{
		Connections:       mc.conns,
		Messages:          mc.messagesLocked(),
		Errors:            mc.errorsLocked(),
		DeliveriesDropped: mc.dropped,
		History: HistoryLengths{
			Connections: mc.connHist.len(),
			Messages:    mc.msgHist.len(),
			Errors:      mc.errHist.len(),
		},
		UptimeSeconds: int64(now.Sub(mc.started).Seconds()),
		Runtime:       mem,
		Timestamp:     now,
	}
}

// Dashboard is the summarized operational view.
type Dashboard struct {
	Overview struct {
		Status            string `json:"status"`
		Score             int    `json:"score"`
		UptimeSeconds     int64  `json:"uptimeSeconds"`
		ActiveConnections int64  `json:"activeConnections"`
		TotalMessages     int64  `json:"totalMessages"`
		TotalErrors       int64  `json:"totalErrors"`
	} `json:"overview"`
	Connections struct {
		ConnectionCounters
		Recent []ConnectionRecord `json:"recent"`
	} `json:"connections"`
	Messages MessageCounters `json:"messages"`
	Errors   struct {
		ErrorCounters
		Recent []ErrorRecord `json:"recent"`
	} `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Dashboard returns the overview plus the 20 most recent connection records
// and the 10 most recent errors, newest first.
func (mc *MetricsCollector) Dashboard() Dashboard {
	health := mc.HealthStatus()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.pruneLocked()
	now := mc.now()

	var d Dashboard
	d.Overview.Status = health.Status
	d.Overview.Score = health.Score
	d.Overview.UptimeSeconds = int64(now.Sub(mc.started).Seconds())
	d.Overview.ActiveConnections = mc.conns.Active
	d.Overview.TotalMessages = mc.msgTotal
	d.Overview.TotalErrors = mc.errTotal
	d.Connections.ConnectionCounters = mc.conns
	d.Connections.Recent = mc.connHist.last(20)
	d.Messages = mc.messagesLocked()
	d.Errors.ErrorCounters = mc.errorsLocked()
	d.Errors.Recent = mc.errHist.last(10)
	d.Timestamp = now
	return d
}

// messageLabel bounds the Prometheus label set to the known message types.
func messageLabel(t string) string {
	switch t {
	case domain.MessageTypeText, domain.MessageTypeImage, domain.MessageTypeFile, domain.MessageTypeSystem:
		return t
	case "":
		return domain.MessageTypeText
	default:
		return "other"
	}
}
