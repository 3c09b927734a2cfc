package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/scholarrelay/inkgate/pkg/models"
)

// startSweeps schedules the stuck-job reaper and, when retention is
// configured, the completed-job purge. The returned func stops the
// scheduler and waits for in-flight sweeps.
func (m *Manager) startSweeps(ctx context.Context) func() {
	c := cron.New()

	spec := fmt.Sprintf("@every %s", m.opts.ReaperInterval)
	if _, err := c.AddFunc(spec, func() { m.reapStuck(ctx) }); err != nil {
		slog.Error("queue: scheduling reaper failed", "error", err)
	}

	if m.opts.RetentionPeriod > 0 {
		if _, err := c.AddFunc("@every 1h", func() { m.purgeCompleted(ctx) }); err != nil {
			slog.Error("queue: scheduling retention sweep failed", "error", err)
		}
	}

	c.Start()
	return func() {
		<-c.Stop().Done()
	}
}

// reapStuck fails every processing job whose last heartbeat is older than
// the stuck timeout. Reaped jobs with retry budget left become eligible
// again immediately; a job whose wedged run was its final attempt is
// terminal and gets its completion callback here, since no worker will.
func (m *Manager) reapStuck(ctx context.Context) {
	stuck, err := m.store.FindStuck(ctx, m.opts.StuckTimeout)
	if err != nil {
		slog.Warn("queue: stuck-job scan failed", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	count, err := m.store.MarkStuckAsFailed(ctx, m.opts.StuckTimeout, StuckReason)
	if err != nil {
		slog.Error("queue: reaping stuck jobs failed", "error", err)
		return
	}

	for _, job := range stuck {
		jobsReaped.WithLabelValues(job.Type).Inc()
		m.setCache(ctx, job.ID, models.JobStatusFailed)
		m.publish(job.ID, models.JobStatusFailed)
		// The wedged run was the final attempt: the failure is terminal, so
		// the partner notification fires now, after MarkStuckAsFailed has
		// persisted it. Jobs with budget left keep their registry entries
		// for the re-claim.
		if job.Retries >= job.MaxRetries {
			m.finishCallback(job.ID, errors.New(StuckReason), nil)
		}
	}

	slog.Info("queue: reaped stuck jobs", "count", count)
	m.notify()
}

func (m *Manager) purgeCompleted(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.opts.RetentionPeriod)
	purged, err := m.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		slog.Warn("queue: retention sweep failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("queue: purged completed jobs", "count", purged, "older_than", m.opts.RetentionPeriod)
	}
}
