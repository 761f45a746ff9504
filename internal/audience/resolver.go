package audience

import (
	"context"
	"errors"

	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/repository"
)

var ErrUnknownChannel = errors.New("unknown or disabled channel")

// Resolver turns audience filters into recipient sets. Estimate is the
// best-effort preview count; Resolve is the authoritative id set used by
// fanout.
type Resolver interface {
	Estimate(ctx context.Context, orgID int64, channelID string, f model.Filter) (int64, error)
	Resolve(ctx context.Context, orgID int64, kind model.ChannelKind, f model.Filter) ([]int64, error)
}

type SQLResolver struct {
	customers repository.CustomersRepository
	channels  repository.ChannelsRepository
}

func NewSQLResolver(customers repository.CustomersRepository, channels repository.ChannelsRepository) *SQLResolver {
	return &SQLResolver{customers: customers, channels: channels}
}

var _ Resolver = (*SQLResolver)(nil)

func (r *SQLResolver) Estimate(ctx context.Context, orgID int64, channelID string, f model.Filter) (int64, error) {
	chs, err := r.channels.GetByIDs(ctx, orgID, []string{channelID})
	if err != nil {
		return 0, err
	}
	if len(chs) == 0 {
		return 0, ErrUnknownChannel
	}
	return r.customers.CountMatching(ctx, orgID, chs[0].Kind, f)
}

func (r *SQLResolver) Resolve(ctx context.Context, orgID int64, kind model.ChannelKind, f model.Filter) ([]int64, error) {
	return r.customers.MatchingIDs(ctx, orgID, kind, f)
}
