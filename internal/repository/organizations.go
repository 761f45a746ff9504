package repository

import (
	"context"
	"database/sql"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type OrganizationsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Organization, error)
}

type OrganizationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrganizationsRepository(db *sqlx.DB) *OrganizationsRepositoryImpl {
	return &OrganizationsRepositoryImpl{db: db}
}

var _ OrganizationsRepository = (*OrganizationsRepositoryImpl)(nil)

func (r *OrganizationsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Organization, error) {
	var o model.Organization
	err := r.db.GetContext(ctx, &o, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM organizations
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
