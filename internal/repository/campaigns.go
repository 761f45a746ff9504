package repository

import (
	"context"
	"database/sql"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// CampaignsRepository defines persistence for the campaigns table.
type CampaignsRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, c *model.Campaign) error
	// GetByID is organization-scoped; Get is used by the dispatch loop,
	// which already knows the id is legitimate.
	GetByID(ctx context.Context, orgID int64, id string) (*model.Campaign, error)
	Get(ctx context.Context, id string) (*model.Campaign, error)
	Update(ctx context.Context, tx *sqlx.Tx, c *model.Campaign) error
	Delete(ctx context.Context, orgID int64, id string) (bool, error)
	List(ctx context.Context, orgID int64, status model.CampaignStatus, limit, offset int) ([]model.Campaign, int, error)
	// TransitionStatus performs a guarded status flip: the row only moves
	// when its current status is one of `from`. Returns false when the
	// guard did not match.
	TransitionStatus(ctx context.Context, tx *sqlx.Tx, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
}

type CampaignsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCampaignsRepository(db *sqlx.DB) *CampaignsRepositoryImpl {
	return &CampaignsRepositoryImpl{db: db}
}

var _ CampaignsRepository = (*CampaignsRepositoryImpl)(nil)

func (r *CampaignsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *CampaignsRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, c *model.Campaign) error {
	const q = `
		INSERT INTO campaigns
		    (id, organization_id, name, content, channel_ids, filter, status, scheduled_at, created_by, created_at, updated_at)
		VALUES
		    (?,  ?,               ?,    ?,       ?,           ?,      ?,      ?,            ?,          NOW(),      NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.ID, c.OrganizationID, c.Name, c.Content, c.ChannelIDs, c.Filter,
			c.Status.String(), c.ScheduledAt, c.CreatedBy,
		)
		return err
	})
}

const campaignColumns = `
	id, organization_id, name, content, channel_ids, filter, status,
	scheduled_at, started_at, completed_at, created_by, created_at, updated_at
`

func (r *CampaignsRepositoryImpl) GetByID(ctx context.Context, orgID int64, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ? AND organization_id = ? LIMIT 1`, id, orgID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignsRepositoryImpl) Get(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Update rewrites the operator-editable fields. Status and timestamps go
// through TransitionStatus only.
func (r *CampaignsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, c *model.Campaign) error {
	const q = `
		UPDATE campaigns
		   SET name = ?, content = ?, channel_ids = ?, filter = ?, scheduled_at = ?, updated_at = NOW()
		 WHERE id = ? AND organization_id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.Name, c.Content, c.ChannelIDs, c.Filter, c.ScheduledAt, c.ID, c.OrganizationID,
		)
		return err
	})
}

func (r *CampaignsRepositoryImpl) Delete(ctx context.Context, orgID int64, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id = ? AND organization_id = ?`, id, orgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CampaignsRepositoryImpl) List(ctx context.Context, orgID int64, status model.CampaignStatus, limit, offset int) ([]model.Campaign, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	where := ` WHERE organization_id = ?`
	args := []any{orgID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status.String())
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM campaigns`+where, args...); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.Campaign
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *CampaignsRepositoryImpl) TransitionStatus(ctx context.Context, tx *sqlx.Tx, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	fromStrs := make([]string, 0, len(from))
	for _, s := range from {
		fromStrs = append(fromStrs, s.String())
	}

	// started_at is stamped on the first move into processing;
	// completed_at on any terminal move.
	q := `UPDATE campaigns SET status = ?, updated_at = NOW()`
	if to == model.CampaignProcessing {
		q += `, started_at = COALESCE(started_at, NOW())`
	}
	if to.Terminal() {
		q += `, completed_at = NOW()`
	}
	q += ` WHERE id = ? AND status IN (?)`

	query, args, err := sqlx.In(q, to.String(), id, fromStrs)
	if err != nil {
		return false, err
	}
	query = r.db.Rebind(query)

	var n int64
	err = r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// Transition is the tx-less convenience used by the dispatch processor.
func (r *CampaignsRepositoryImpl) Transition(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	return r.TransitionStatus(ctx, nil, id, from, to)
}

func (r *CampaignsRepositoryImpl) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	var rows []model.Campaign
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ? ORDER BY created_at`, status.String())
	return rows, err
}
