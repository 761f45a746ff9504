package repository

import (
	"context"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type ChannelsRepository interface {
	// GetByIDs returns the organization's active channels among ids, in
	// no particular order. Unknown or disabled ids are simply absent.
	GetByIDs(ctx context.Context, orgID int64, ids []string) ([]model.Channel, error)
	ListByOrg(ctx context.Context, orgID int64) ([]model.Channel, error)
}

type ChannelsRepositoryImpl struct {
	db *sqlx.DB
}

func NewChannelsRepository(db *sqlx.DB) *ChannelsRepositoryImpl {
	return &ChannelsRepositoryImpl{db: db}
}

var _ ChannelsRepository = (*ChannelsRepositoryImpl)(nil)

const channelColumns = `id, organization_id, kind, name, status, created_at, updated_at`

func (r *ChannelsRepositoryImpl) GetByIDs(ctx context.Context, orgID int64, ids []string) ([]model.Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+channelColumns+` FROM channels WHERE organization_id = ? AND status = 'active' AND id IN (?)`,
		orgID, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var rows []model.Channel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ChannelsRepositoryImpl) ListByOrg(ctx context.Context, orgID int64) ([]model.Channel, error) {
	var rows []model.Channel
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+channelColumns+` FROM channels WHERE organization_id = ? ORDER BY id`, orgID)
	return rows, err
}
