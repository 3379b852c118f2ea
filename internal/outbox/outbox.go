// Package outbox is the durable queue of progress updates that could
// not be delivered. Entries are unique per item — fresher progress for
// an item replaces the queued value — so the queue is bounded by the
// number of items ever read offline.
package outbox

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mimeoapp/mimeo/internal/api"
	"github.com/mimeoapp/mimeo/internal/store"
)

const (
	// MaxAttempts is the delivery attempt cap per entry. Entries at the
	// cap are skipped by Flush, not deleted: the unique-per-item upsert
	// supersedes them as soon as fresher progress arrives.
	MaxAttempts = 10

	maxErrorChars = 240
)

// Sender delivers one progress update. It is the seam between the queue
// and the backend client.
type Sender func(ctx context.Context, itemID, percent int) error

// FlushResult summarizes one flush pass.
type FlushResult struct {
	Flushed           int
	RetryableFailures int
	Remaining         int
}

// HasRetryableWork reports whether a background flush should be
// rescheduled.
func (r FlushResult) HasRetryableWork() bool {
	return r.RetryableFailures > 0 && r.Remaining > 0
}

// Queue is the persistent outbox.
type Queue struct {
	db     *store.Store
	logger *log.Logger
	clock  func() time.Time
}

// New creates an outbox backed by the local database.
func New(db *store.Store, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{db: db, logger: logger, clock: time.Now}
}

// Enqueue queues a progress update for later delivery, replacing any
// prior entry for the same item and resetting its attempt count.
func (q *Queue) Enqueue(ctx context.Context, itemID, percent int) error {
	return q.db.UpsertPendingProgress(ctx, itemID, clampPercent(percent), q.clock().UnixMilli())
}

// CountPending returns the number of queued updates.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	return q.db.CountPendingProgress(ctx)
}

// Flush attempts delivery of every queued update in creation order.
// Delivered entries are deleted. Failures are recorded on the entry;
// only retryable (transport) failures count toward rescheduling, while
// terminal failures burn an attempt and wait to be superseded.
func (q *Queue) Flush(ctx context.Context, send Sender) (FlushResult, error) {
	entries, err := q.db.ListPendingProgress(ctx)
	if err != nil {
		return FlushResult{}, err
	}

	var result FlushResult
	for _, entry := range entries {
		if entry.AttemptCount >= MaxAttempts {
			q.logger.Debug("skipping capped pending entry", "item", entry.ItemID, "attempts", entry.AttemptCount)
			continue
		}

		sendErr := send(ctx, entry.ItemID, clampPercent(entry.Percent))
		if sendErr == nil {
			if err := q.db.DeletePendingProgress(ctx, entry.ID); err != nil {
				return result, err
			}
			result.Flushed++
			continue
		}

		retryable := api.IsRetryable(sendErr)
		if retryable {
			result.RetryableFailures++
		} else {
			q.logger.Warn("terminal failure delivering progress", "item", entry.ItemID, "err", sendErr)
		}
		if err := q.db.RecordPendingAttempt(ctx, entry.ID, entry.AttemptCount+1,
			q.clock().UnixMilli(), truncateError(sendErr)); err != nil {
			return result, err
		}
	}

	if result.Remaining, err = q.db.CountPendingProgress(ctx); err != nil {
		return result, err
	}
	if result.Flushed > 0 || result.RetryableFailures > 0 {
		q.logger.Info("flushed pending progress",
			"flushed", result.Flushed,
			"retrying", result.RetryableFailures,
			"remaining", result.Remaining)
	}
	return result, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorChars {
		return msg[:maxErrorChars]
	}
	return msg
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
