// Package progress is the Progress Publisher: a write-many/read-many
// key/value side channel exposing per-scan stage, step, and message for
// live UI polling, independent of the durable Finding Store. Grounded on
// the original StateManager's Redis hash usage
// (services/common/core/queue.py).
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/katashiba/secscan-engine/internal/logging"
)

// Publisher publishes and reads live scan progress via Redis hashes keyed
// by scan:<id>:state.
type Publisher struct {
	rdb *redis.Client
	log *logging.Logger
}

// New builds a Publisher from a redis connection URL such as
// redis://localhost:6379/0.
func New(redisURL string, log *logging.Logger) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opt), log: log}, nil
}

func stateKey(scanID int64) string {
	return fmt.Sprintf("scan:%d:state", scanID)
}

// UpdateStage sets the current pipeline stage for a scan.
func (p *Publisher) UpdateStage(ctx context.Context, scanID int64, stage string) {
	p.writeFireAndForget(ctx, scanID, map[string]interface{}{
		"stage":      stage,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// UpdateStep records a step within the current stage for live polling.
func (p *Publisher) UpdateStep(ctx context.Context, scanID int64, step, total int, message, status string) {
	p.writeFireAndForget(ctx, scanID, map[string]interface{}{
		"step_number": step,
		"total_steps": total,
		"message":     message,
		"status":      status,
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

// Complete marks the scan's progress channel as completed.
func (p *Publisher) Complete(ctx context.Context, scanID int64) {
	p.writeFireAndForget(ctx, scanID, map[string]interface{}{
		"status":     "completed",
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Fail marks the scan's progress channel as failed with an error string.
func (p *Publisher) Fail(ctx context.Context, scanID int64, errText string) {
	p.writeFireAndForget(ctx, scanID, map[string]interface{}{
		"status":     "failed",
		"error":      errText,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Read returns the current field map for a scan's progress channel, used by
// the dashboard collaborator for live polling.
func (p *Publisher) Read(ctx context.Context, scanID int64) (map[string]string, error) {
	return p.rdb.HGetAll(ctx, stateKey(scanID)).Result()
}

// writeFireAndForget performs the HSET and swallows any error after
// logging it: unavailability of Redis must never block scan progress.
func (p *Publisher) writeFireAndForget(ctx context.Context, scanID int64, fields map[string]interface{}) {
	if err := p.rdb.HSet(ctx, stateKey(scanID), fields).Err(); err != nil {
		if p.log != nil {
			p.log.WithContext(ctx).WithError(err).WithField("scan_id", scanID).
				Warn("progress channel write failed, continuing")
		}
	}
}

// Close releases the underlying Redis connection pool.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
