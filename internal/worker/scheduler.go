package worker

import (
	"context"
	"errors"
	"time"

	"notionsync/internal/export"

	"github.com/redis/go-redis/v9"
)

// Run is the worker loop: the redis fast path delivers freshly queued job
// ids with sub-second latency, and the poll tick covers everything else
// (jobs enqueued while redis was down, retries, stale claims, retention
// cleanup, the nightly reconciliation pass). Returns when ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info().
		Dur("poll_interval", m.pollInterval).
		Int("batch_size", m.batchSize).
		Msg("sync worker started")
	defer m.logger.Info().Msg("sync worker stopped")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if jobID, ok := m.popRedis(ctx); ok {
			m.ProcessJobID(ctx, jobID)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(ctx, now)
		default:
			// redis disabled: block on the ticker instead of spinning
			if m.redis == nil {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					m.tick(ctx, now)
				}
			}
		}
	}
}

// tick is one maintenance pass: recover stale claims, drain a batch, purge
// expired rows, and once a day run the full reconciliation.
func (m *Manager) tick(ctx context.Context, now time.Time) {
	if n, err := m.db.RequeueStaleJobs(ctx, m.processingTimeout); err != nil {
		m.logger.Error().Err(err).Msg("stale job sweep failed")
	} else if n > 0 {
		m.logger.Warn().Int64("jobs", n).Msg("stale processing jobs requeued")
	}

	if _, err := m.ProcessPendingJobs(ctx); err != nil {
		m.logger.Error().Err(err).Msg("drain failed")
	}

	if _, err := m.db.CleanupOldJobs(ctx, m.retentionDays); err != nil {
		m.logger.Error().Err(err).Msg("job cleanup failed")
	}
	if _, err := m.db.CleanupOldLogs(ctx, m.retentionDays); err != nil {
		m.logger.Error().Err(err).Msg("log cleanup failed")
	}

	day := now.Format("2006-01-02")
	if now.Hour() == m.fullSyncHour && m.lastFullSync != day {
		m.lastFullSync = day
		m.FullSync(ctx)
	}
}

// popRedis takes one job id off the fast-path list. Not ok on an empty
// list, a disabled client, or any redis error; the poll loop covers those.
func (m *Manager) popRedis(ctx context.Context) (string, bool) {
	if m.redis == nil {
		return "", false
	}
	res, err := m.redis.BRPop(ctx, time.Second, m.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warn().Err(err).Msg("redis pop failed")
		}
		return "", false
	}
	if len(res) != 2 {
		return "", false
	}
	return res[1], true
}

func (m *Manager) writeReport(ctx context.Context) error {
	path, err := export.WriteReport(ctx, m.db, m.exportPath)
	if err != nil {
		return err
	}
	m.logger.Info().Str("path", path).Msg("sync report written")
	return nil
}
