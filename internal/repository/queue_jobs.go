package repository

import (
	"context"
	"strings"
	"time"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// QueueJobsRepository defines persistence for the queue_jobs table.
// Every transition is a conditional UPDATE guarded on the expected
// current status, so terminal rows can never regress and concurrent
// workers can never double-apply an outcome.
type QueueJobsRepository interface {
	// BulkInsert writes fanout rows. Duplicate (campaign, customer,
	// channel) targets are dropped, never doubled.
	BulkInsert(ctx context.Context, jobs []model.QueueJob) error
	CountByCampaign(ctx context.Context, campaignID string) (int64, error)
	StatusCounts(ctx context.Context, campaignID string) (map[model.JobStatus]int64, error)

	// ClaimDue atomically moves a bounded batch of due pending jobs to
	// processing and returns them, ordered by scheduled_at then id.
	ClaimDue(ctx context.Context, campaignID string, now time.Time, limit int) ([]model.QueueJob, error)

	MarkSent(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) (bool, error)
	// Reschedule returns a claimed job to pending with a new attempt
	// count and scheduled time (retry with backoff).
	Reschedule(ctx context.Context, id string, at time.Time, attempts int, lastErr string) (bool, error)
	// Release returns a claimed job to pending untouched (rate-limiter
	// acquisition timed out before the send was attempted).
	Release(ctx context.Context, id string) (bool, error)
	// ReclaimStale returns processing rows that stopped moving before
	// olderThan to pending. The age bound keeps claims held by a live
	// worker out of reach.
	ReclaimStale(ctx context.Context, campaignID string, olderThan time.Time) (int64, error)

	// TransitionAll flips every job of the campaign from one status to
	// another (pause: pending->paused, resume: paused->pending).
	TransitionAll(ctx context.Context, tx *sqlx.Tx, campaignID string, from, to model.JobStatus) (int64, error)
	// CancelActive flips every non-terminal job to cancelled.
	CancelActive(ctx context.Context, tx *sqlx.Tx, campaignID string) (int64, error)

	List(ctx context.Context, campaignID string, status model.JobStatus, limit, offset int) ([]model.QueueJob, int, error)
}

type QueueJobsRepositoryImpl struct {
	db *sqlx.DB
}

func NewQueueJobsRepository(db *sqlx.DB) *QueueJobsRepositoryImpl {
	return &QueueJobsRepositoryImpl{db: db}
}

var _ QueueJobsRepository = (*QueueJobsRepositoryImpl)(nil)

func (r *QueueJobsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// BulkInsert writes fanout rows in chunks of insertChunk values.
const insertChunk = 500

func (r *QueueJobsRepositoryImpl) BulkInsert(ctx context.Context, jobs []model.QueueJob) error {
	if len(jobs) == 0 {
		return nil
	}
	const row = `(?, ?, ?, ?, ?, ?, 'pending', ?, 0, NOW(), NOW())`
	// IGNORE drops rows that collide on uq_jobs_target, so two fanout
	// attempts racing past the existence check still produce one job
	// per (recipient, channel).
	const head = `
		INSERT IGNORE INTO queue_jobs
		    (id, campaign_id, organization_id, customer_id, channel_id, channel_kind, status, scheduled_at, attempts, created_at, updated_at)
		VALUES `

	for start := 0; start < len(jobs); start += insertChunk {
		end := start + insertChunk
		if end > len(jobs) {
			end = len(jobs)
		}
		chunk := jobs[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*7)
		for _, j := range chunk {
			placeholders = append(placeholders, row)
			args = append(args, j.ID, j.CampaignID, j.OrganizationID, j.CustomerID,
				j.ChannelID, j.ChannelKind.String(), j.ScheduledAt)
		}

		if _, err := r.db.ExecContext(ctx, head+strings.Join(placeholders, ","), args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *QueueJobsRepositoryImpl) CountByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM queue_jobs WHERE campaign_id = ?`, campaignID)
	return n, err
}

func (r *QueueJobsRepositoryImpl) StatusCounts(ctx context.Context, campaignID string) (map[model.JobStatus]int64, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM queue_jobs WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

const jobColumns = `
	id, campaign_id, organization_id, customer_id, channel_id, channel_kind,
	status, scheduled_at, attempts, last_error, created_at, updated_at
`

// ClaimDue selects due pending rows FOR UPDATE SKIP LOCKED and flips
// them to processing in the same transaction. SKIP LOCKED keeps
// concurrent claimers (other replicas included) from blocking on, or
// double-claiming, each other's rows; the guarded UPDATE is what makes
// the claim exclusive.
func (r *QueueJobsRepositoryImpl) ClaimDue(ctx context.Context, campaignID string, now time.Time, limit int) ([]model.QueueJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var claimed []model.QueueJob
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		var rows []model.QueueJob
		err := tx.SelectContext(ctx, &rows, `
			SELECT `+jobColumns+`
			  FROM queue_jobs
			 WHERE campaign_id = ? AND status = 'pending' AND scheduled_at <= ?
			 ORDER BY scheduled_at, id
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED
		`, campaignID, now, limit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, j := range rows {
			ids = append(ids, j.ID)
		}
		query, args, err := sqlx.In(
			`UPDATE queue_jobs SET status = 'processing', updated_at = NOW() WHERE id IN (?) AND status = 'pending'`, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}

		claimed = rows
		for i := range claimed {
			claimed[i].Status = model.JobProcessing
		}
		return nil
	})
	return claimed, err
}

func (r *QueueJobsRepositoryImpl) MarkSent(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = 'sent', last_error = '', updated_at = NOW() WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueueJobsRepositoryImpl) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = NOW() WHERE id = ? AND status = 'processing'`,
		attempts, truncateErr(lastErr), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueueJobsRepositoryImpl) Reschedule(ctx context.Context, id string, at time.Time, attempts int, lastErr string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = 'pending', scheduled_at = ?, attempts = ?, last_error = ?, updated_at = NOW() WHERE id = ? AND status = 'processing'`,
		at, attempts, truncateErr(lastErr), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueueJobsRepositoryImpl) Release(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = 'pending', updated_at = NOW() WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueueJobsRepositoryImpl) ReclaimStale(ctx context.Context, campaignID string, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = 'pending', updated_at = NOW() WHERE campaign_id = ? AND status = 'processing' AND updated_at <= ?`,
		campaignID, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueueJobsRepositoryImpl) TransitionAll(ctx context.Context, tx *sqlx.Tx, campaignID string, from, to model.JobStatus) (int64, error) {
	var n int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_jobs SET status = ?, updated_at = NOW() WHERE campaign_id = ? AND status = ?`,
			to.String(), campaignID, from.String())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (r *QueueJobsRepositoryImpl) CancelActive(ctx context.Context, tx *sqlx.Tx, campaignID string) (int64, error) {
	var n int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_jobs SET status = 'cancelled', updated_at = NOW() WHERE campaign_id = ? AND status IN ('pending', 'paused', 'processing')`,
			campaignID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (r *QueueJobsRepositoryImpl) List(ctx context.Context, campaignID string, status model.JobStatus, limit, offset int) ([]model.QueueJob, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ` WHERE campaign_id = ?`
	args := []any{campaignID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status.String())
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM queue_jobs`+where, args...); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + jobColumns + ` FROM queue_jobs` + where + ` ORDER BY scheduled_at, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.QueueJob
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// truncateErr keeps last_error within its column size.
func truncateErr(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
