package api

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// healthStatus is one subsystem's rollup state, following the same
// healthy/degraded/unhealthy vocabulary used for the engine health probes
// elsewhere in the retrieved corpus.
type healthStatus string

const (
	healthHealthy   healthStatus = "healthy"
	healthDegraded  healthStatus = "degraded"
	healthUnhealthy healthStatus = "unhealthy"
)

// brokerConnChecker is satisfied by broker.Transport; kept local and minimal
// so this package doesn't need to import a concrete transport.
type brokerConnChecker interface {
	Connected() bool
}

type resourceSnapshot struct {
	Goroutines int    `json:"goroutines"`
	AllocBytes uint64 `json:"allocBytes"`
	SysBytes   uint64 `json:"sysBytes"`
}

type healthBody struct {
	OverallStatus healthStatus     `json:"overallStatus"`
	CPU           resourceSnapshot `json:"cpu"`
	Memory        resourceSnapshot `json:"memory"`
	Storage       healthStatus     `json:"storage"`
	Database      healthStatus     `json:"database"`
	Broker        healthStatus     `json:"broker"`
	CheckedAt     time.Time        `json:"checkedAt"`
}

// healthCache memoizes the last computed snapshot for 5 seconds —
// re-probing the database and broker on every poll from a dashboard would
// otherwise add load for no new information.
type healthCache struct {
	mu       sync.Mutex
	snapshot healthBody
	ttl      time.Duration
}

func newHealthCache() *healthCache {
	return &healthCache{ttl: 5 * time.Second}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) error {
	s.healthCache.mu.Lock()
	defer s.healthCache.mu.Unlock()

	if time.Since(s.healthCache.snapshot.CheckedAt) < s.healthCache.ttl {
		ok(w, s.healthCache.snapshot)
		return nil
	}

	body := s.computeHealth(r.Context())
	s.healthCache.snapshot = body
	ok(w, body)
	return nil
}

func (s *Server) computeHealth(ctx context.Context) healthBody {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resources := resourceSnapshot{Goroutines: runtime.NumGoroutine(), AllocBytes: mem.Alloc, SysBytes: mem.Sys}

	database := healthHealthy
	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pingDB(pingCtx, s.db); err != nil {
			database = healthUnhealthy
		}
	}

	broker := healthHealthy
	if s.brokerConn != nil && !s.brokerConn.Connected() {
		broker = healthDegraded
	}

	storage := healthHealthy
	if s.reports == nil {
		storage = healthDegraded
	}

	overall := healthHealthy
	for _, st := range []healthStatus{database, broker, storage} {
		if st == healthUnhealthy {
			overall = healthUnhealthy
		} else if st == healthDegraded && overall == healthHealthy {
			overall = healthDegraded
		}
	}

	return healthBody{
		OverallStatus: overall,
		CPU:           resources,
		Memory:        resources,
		Storage:       storage,
		Database:      database,
		Broker:        broker,
		CheckedAt:     time.Now(),
	}
}

func pingDB(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}
