package services

import (
	"fmt"
	"time"
)

// Health labels.
const (
	HealthExcellent = "excellent"
	HealthGood      = "good"
	HealthWarning   = "warning"
	HealthCritical  = "critical"
)

// Health penalties and thresholds.
const (
	penaltyMemory       = 20
	penaltyErrorRate    = 30
	penaltyNoActive     = 10
	maxHealthyErrorRate = 0.01
)

// HealthStatus is the heuristic health view.
type HealthStatus struct {
	Status            string      `json:"status"`
	Score             int         `json:"score"`
	Issues            []string    `json:"issues"`
	ErrorRate         float64     `json:"errorRate"`
	ActiveConnections int64       `json:"activeConnections"`
	Memory            MemoryUsage `json:"memory"`
	UptimeSeconds     int64       `json:"uptimeSeconds"`
	Timestamp         time.Time   `json:"timestamp"`
}

// HealthStatus scores the process starting at 100:
//   - −20 when the heap exceeds the memory threshold
//   - −30 when errors exceed 1% of message volume
//   - −10 when nobody is connected after at least one connect
func (mc *MetricsCollector) HealthStatus() HealthStatus {
	mem := mc.readMem()

	mc.mu.Lock()
	conns := mc.conns
	msgs := mc.msgTotal
	errs := mc.errTotal
	now := mc.now()
	started := mc.started
	mc.mu.Unlock()

	score := 100
	issues := []string{}

	if mem.HeapAlloc > mc.memLimit {
		score -= penaltyMemory
		issues = append(issues, fmt.Sprintf("heap usage %d MiB above threshold %d MiB", mem.HeapAlloc>>20, mc.memLimit>>20))
	}

	denom := msgs
	if denom < 1 {
		denom = 1
	}
	rate := float64(errs) / float64(denom)
	if rate > maxHealthyErrorRate {
		score -= penaltyErrorRate
		issues = append(issues, fmt.Sprintf("error rate %.2f%% above 1%%", rate*100))
	}

	if conns.Active == 0 && conns.Total > 0 {
		score -= penaltyNoActive
		issues = append(issues, "no active connections")
	}

	return HealthStatus{
		Status:            healthLabel(score),
		Score:             score,
		Issues:            issues,
		ErrorRate:         rate,
		ActiveConnections: conns.Active,
		Memory:            mem,
		UptimeSeconds:     int64(now.Sub(started).Seconds()),
		Timestamp:         now,
	}
}

func healthLabel(score int) string {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 70:
		return HealthGood
	case score >= 50:
		return HealthWarning
	default:
		return HealthCritical
	}
}
