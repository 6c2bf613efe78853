// Package syncer implements the copy-trading pipeline: risk guard,
// trade aggregation, sizing, order execution, and per-trader state.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// MetricsSnapshot is a point-in-time copy of the pipeline counters.
type MetricsSnapshot struct {
	EventsSeen     int64 `json:"events_seen"`
	EventsUnknown  int64 `json:"events_unknown"` // not in the follow list
	EventsDust     int64 `json:"events_dust"`    // below trader min shares
	RiskBlocked    int64 `json:"risk_blocked"`
	NoPosition     int64 `json:"no_position"`
	Aggregated     int64 `json:"aggregated"` // held for a window
	Emitted        int64 `json:"emitted"`    // reached sizing
	ProbSkipped    int64 `json:"prob_skipped"`
	OrdersExecuted int64 `json:"orders_executed"`
	Successes      int64 `json:"successes"`
	Partials       int64 `json:"partials"`
	Failures       int64 `json:"failures"`
}

// PipelineMetrics counts events through each pipeline stage.
type PipelineMetrics struct {
	mu   sync.Mutex
	snap MetricsSnapshot
}

func (m *PipelineMetrics) add(f func(*MetricsSnapshot)) {
	m.mu.Lock()
	f(&m.snap)
	m.mu.Unlock()
}

// Snapshot returns a copy safe to marshal or log.
func (m *PipelineMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

const metricsKey = "copybot:metrics"

// MetricsStore persists pipeline metric snapshots to Redis so the
// dashboard survives restarts. A nil store is a no-op; the engine
// runs fine without Redis.
type MetricsStore struct {
	redis *redis.Client
}

// NewMetricsStore wraps a Redis client. Pass nil to disable.
func NewMetricsStore(redisClient *redis.Client) *MetricsStore {
	if redisClient == nil {
		return nil
	}
	return &MetricsStore{redis: redisClient}
}

type metricsEnvelope struct {
	Pipeline  MetricsSnapshot `json:"pipeline"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Save writes the current snapshot with a 24h TTL.
func (m *MetricsStore) Save(ctx context.Context, snap MetricsSnapshot) error {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(metricsEnvelope{Pipeline: snap, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return m.redis.Set(ctx, metricsKey, data, 24*time.Hour).Err()
}

// Load reads the last persisted snapshot, zero-valued if none exists.
func (m *MetricsStore) Load(ctx context.Context) (MetricsSnapshot, error) {
	if m == nil {
		return MetricsSnapshot{}, nil
	}
	data, err := m.redis.Get(ctx, metricsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return MetricsSnapshot{}, nil
		}
		return MetricsSnapshot{}, err
	}
	var env metricsEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return MetricsSnapshot{}, err
	}
	return env.Pipeline, nil
}
