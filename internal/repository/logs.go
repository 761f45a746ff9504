package repository

import (
	"context"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// LogsRepository persists campaign log entries in ClickHouse. The table
// is append-only; the engine writes, the HTTP listing reads.
type LogsRepository interface {
	Append(ctx context.Context, e model.LogEntry) error
	List(ctx context.Context, orgID int64, campaignID string, level model.LogLevel, limit, offset int) ([]model.LogEntry, error)
}

type logsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewLogsRepository(ch *sqlx.DB) LogsRepository {
	return &logsRepository{ch: ch}
}

func (r *logsRepository) Append(ctx context.Context, e model.LogEntry) error {
	const q = `
		INSERT INTO engage.campaign_logs
		    (campaign_id, organization_id, level, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		e.CampaignID, e.OrganizationID, e.Level.String(), e.Message, e.Details, e.CreatedAt)
	return err
}

func (r *logsRepository) List(ctx context.Context, orgID int64, campaignID string, level model.LogLevel, limit, offset int) ([]model.LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT campaign_id, organization_id, level, message, details, created_at
		FROM engage.campaign_logs
		WHERE organization_id = ? AND campaign_id = ?
	`
	args := []any{orgID, campaignID}

	if level != "" {
		q += " AND level = ?"
		args = append(args, level.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.LogEntry
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
