package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"findoc-backend/internal/shared/telemetry"
)

const (
	TypeCounter   = "counter"
	TypeGauge     = "gauge"
	TypeHistogram = "histogram"
)

// Recorder persists named observations into the system_metrics table.
// It is write-only telemetry; nothing in the service reads these rows back.
type Recorder struct {
	DB *sql.DB
}

// NewRecorder constructs a Recorder. A nil db yields a no-op recorder.
func NewRecorder(sqlDB *sql.DB) *Recorder {
	return &Recorder{DB: sqlDB}
}

// Record inserts one observation. Failures are logged, never propagated;
// metric writes must not fail the request that produced them.
func (r *Recorder) Record(ctx context.Context, name string, value float64, metricType string, tags map[string]string) {
	if r == nil || r.DB == nil {
		return
	}
	var tagsPayload any
	if len(tags) > 0 {
		raw, err := json.Marshal(tags)
		if err == nil {
			tagsPayload = string(raw)
		}
	}
	const query = `
INSERT INTO system_metrics (metric_name, metric_value, metric_type, timestamp, tags)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.DB.ExecContext(ctx, query, name, value, metricType, time.Now().UTC(), tagsPayload); err != nil {
		telemetry.Error("metrics.record", map[string]any{
			"metric_name": name,
			"error":       err.Error(),
		})
	}
}
