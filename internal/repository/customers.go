package repository

import (
	"context"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// CustomersRepository answers audience queries over the customers table.
type CustomersRepository interface {
	// CountMatching is the non-authoritative estimate used for operator
	// preview.
	CountMatching(ctx context.Context, orgID int64, kind model.ChannelKind, f model.Filter) (int64, error)
	// MatchingIDs materializes the recipient set, ordered by id so
	// repeated resolution of the same filter is deterministic.
	MatchingIDs(ctx context.Context, orgID int64, kind model.ChannelKind, f model.Filter) ([]int64, error)
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

// filterClause builds the WHERE tail shared by count and id queries.
// Stage and tag lists match any-of; attribute predicates must all hold.
// Reachability: email campaigns need an email address, messaging
// channels need a phone number.
func filterClause(orgID int64, kind model.ChannelKind, f model.Filter) (string, []any, error) {
	q := ` WHERE organization_id = ? AND status = 'active'`
	args := []any{orgID}

	if kind == model.ChannelEmail {
		q += ` AND email <> ''`
	} else {
		q += ` AND phone <> ''`
	}

	if len(f.StageIDs) > 0 {
		in, inArgs, err := sqlx.In(` AND stage_id IN (?)`, f.StageIDs)
		if err != nil {
			return "", nil, err
		}
		q += in
		args = append(args, inArgs...)
	}

	if len(f.TagIDs) > 0 {
		q += ` AND (`
		for i, tag := range f.TagIDs {
			if i > 0 {
				q += ` OR `
			}
			q += `JSON_CONTAINS(tag_ids, JSON_QUOTE(?))`
			args = append(args, tag)
		}
		q += `)`
	}

	for key, val := range f.Attributes {
		q += ` AND JSON_UNQUOTE(JSON_EXTRACT(attributes, ?)) = ?`
		args = append(args, "$."+key, val)
	}

	return q, args, nil
}

func (r *CustomersRepositoryImpl) CountMatching(ctx context.Context, orgID int64, kind model.ChannelKind, f model.Filter) (int64, error) {
	where, args, err := filterClause(orgID, kind, f)
	if err != nil {
		return 0, err
	}
	query := r.db.Rebind(`SELECT COUNT(*) FROM customers` + where)

	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *CustomersRepositoryImpl) MatchingIDs(ctx context.Context, orgID int64, kind model.ChannelKind, f model.Filter) ([]int64, error) {
	where, args, err := filterClause(orgID, kind, f)
	if err != nil {
		return nil, err
	}
	query := r.db.Rebind(`SELECT id FROM customers` + where + ` ORDER BY id`)

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, err
	}
	return ids, nil
}
