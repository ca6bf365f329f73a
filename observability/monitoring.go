package observability

import (
	"care-signal/domain"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats aggregates signaling counters for logs and the debug pages.
type MonitoringStats struct {
	// --- PRESENCE ---
	Registrations uint64 `json:"registrations"`
	Evictions     uint64 `json:"evictions"`
	Disconnects   uint64 `json:"disconnects"`

	// --- SESSIONS ---
	SessionsCreated  uint64                          `json:"sessions_created"`
	SessionsByStatus map[domain.SessionStatus]uint64 `json:"sessions_by_status"`
	Relayed          uint64                          `json:"relayed"`
	Rejected         uint64                          `json:"rejected"`

	// --- PERSISTENCE ---
	CallLogWrites   uint64 `json:"call_log_writes"`
	CallLogFailures uint64 `json:"call_log_failures"`
	CallLogDropped  uint64 `json:"call_log_dropped"`

	// --- SYSTEM ---
	AllocMemMb uint64    `json:"alloc_mem_mb"`
	NumGC      uint32    `json:"num_gc"`
	At         time.Time `json:"at"`
}

// MonitoringManager is fed from the hot paths with atomic increments only.
type MonitoringManager struct {
	log *slog.Logger

	registrations   uint64
	evictions       uint64
	disconnects     uint64
	sessionsCreated uint64
	relayed         uint64
	rejected        uint64
	callLogWrites   uint64
	callLogFailures uint64
	callLogDropped  uint64

	mu       sync.Mutex
	outcomes map[domain.SessionStatus]uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{
		log:      log,
		outcomes: make(map[domain.SessionStatus]uint64),
	}
}

func (mm *MonitoringManager) IncrRegistrations()   { atomic.AddUint64(&mm.registrations, 1) }
func (mm *MonitoringManager) IncrEvictions()       { atomic.AddUint64(&mm.evictions, 1) }
func (mm *MonitoringManager) IncrDisconnects()     { atomic.AddUint64(&mm.disconnects, 1) }
func (mm *MonitoringManager) IncrSessionsCreated() { atomic.AddUint64(&mm.sessionsCreated, 1) }
func (mm *MonitoringManager) IncrRelayed()         { atomic.AddUint64(&mm.relayed, 1) }
func (mm *MonitoringManager) IncrRejected()        { atomic.AddUint64(&mm.rejected, 1) }
func (mm *MonitoringManager) IncrCallLogWrites()   { atomic.AddUint64(&mm.callLogWrites, 1) }
func (mm *MonitoringManager) IncrCallLogFailures() { atomic.AddUint64(&mm.callLogFailures, 1) }
func (mm *MonitoringManager) IncrCallLogDropped()  { atomic.AddUint64(&mm.callLogDropped, 1) }

// IncrOutcome counts a session reaching a terminal status.
func (mm *MonitoringManager) IncrOutcome(status domain.SessionStatus) {
	mm.mu.Lock()
	mm.outcomes[status]++
	mm.mu.Unlock()
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.Lock()
	outcomes := make(map[domain.SessionStatus]uint64, len(mm.outcomes))
	for k, v := range mm.outcomes {
		outcomes[k] = v
	}
	mm.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MonitoringStats{
		Registrations:    atomic.LoadUint64(&mm.registrations),
		Evictions:        atomic.LoadUint64(&mm.evictions),
		Disconnects:      atomic.LoadUint64(&mm.disconnects),
		SessionsCreated:  atomic.LoadUint64(&mm.sessionsCreated),
		SessionsByStatus: outcomes,
		Relayed:          atomic.LoadUint64(&mm.relayed),
		Rejected:         atomic.LoadUint64(&mm.rejected),
		CallLogWrites:    atomic.LoadUint64(&mm.callLogWrites),
		CallLogFailures:  atomic.LoadUint64(&mm.callLogFailures),
		CallLogDropped:   atomic.LoadUint64(&mm.callLogDropped),
		AllocMemMb:       m.Alloc / 1024 / 1024,
		NumGC:            m.NumGC,
		At:               time.Now().UTC(),
	}
}

// AsMap flattens the latest stats for the HTML inspector.
func (mm *MonitoringManager) AsMap() map[string]any {
	s := mm.GetLatest()
	res := map[string]any{
		"Registrations":   s.Registrations,
		"Evictions":       s.Evictions,
		"Disconnects":     s.Disconnects,
		"SessionsCreated": s.SessionsCreated,
		"Relayed":         s.Relayed,
		"Rejected":        s.Rejected,
		"CallLogWrites":   s.CallLogWrites,
		"CallLogFailures": s.CallLogFailures,
		"CallLogDropped":  s.CallLogDropped,
		"AllocMemMb":      s.AllocMemMb,
	}
	for status, n := range s.SessionsByStatus {
		res["Sessions"+string(status)] = n
	}
	return res
}
