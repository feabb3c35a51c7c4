package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"share-approval-service/internal/metrics"
	"share-approval-service/internal/services"
)

// Expirer closes overdue pending requests
type Expirer interface {
	ProcessExpired(ctx context.Context, batchSize int) (services.SweepResult, error)
}

// ExpirationJob periodically expires pending share approval requests whose deadline has passed
type ExpirationJob struct {
	engine    Expirer
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewExpirationJob creates a new expiration job
func NewExpirationJob(engine Expirer, m *metrics.Metrics, logger *logrus.Logger, interval time.Duration, batchSize int) *ExpirationJob {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize < 1 {
		batchSize = 100
	}
	return &ExpirationJob{
		engine:    engine,
		metrics:   m,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the job until Stop is called or ctx is cancelled
func (j *ExpirationJob) Start(ctx context.Context) {
	j.logger.WithField("interval", j.interval.String()).Info("Expiration job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("Expiration job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Expiration job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *ExpirationJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
}

// RunOnce sweeps batches until a batch comes back short, so a backlog is
// drained in small transactions
func (j *ExpirationJob) RunOnce(ctx context.Context) services.SweepResult {
	var total services.SweepResult
	start := time.Now()

	for {
		result, err := j.engine.ProcessExpired(ctx, j.batchSize)
		total.Scanned += result.Scanned
		total.Expired += result.Expired
		total.Skipped += result.Skipped
		total.Failed += result.Failed

		if err != nil {
			j.logger.Errorf("Failed to process expired requests: %v", err)
			break
		}
		// Stop on a short batch, or when nothing in a full batch could be expired
		if result.Scanned < j.batchSize || result.Expired == 0 {
			break
		}
	}

	j.metrics.RecordSweep(total.Expired, total.Failed, time.Since(start))

	if total.Scanned == 0 {
		j.logger.Debug("No overdue requests")
		return total
	}

	j.logger.WithFields(logrus.Fields{
		"scanned": total.Scanned,
		"expired": total.Expired,
		"skipped": total.Skipped,
		"failed":  total.Failed,
	}).Info("Expiration sweep finished")
	return total
}
