package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/engagekit/campaign-engine/internal/audience"
	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/util"
)

var ErrNoChannels = errors.New("campaign has no usable channels")

// JobStore is the slice of the queue repository fanout needs.
// BulkInsert drops duplicate (campaign, customer, channel) targets, so
// two materializations racing past the existence check still converge
// on one job per target.
type JobStore interface {
	CountByCampaign(ctx context.Context, campaignID string) (int64, error)
	BulkInsert(ctx context.Context, jobs []model.QueueJob) error
}

// ChannelStore resolves channel ids to rows.
type ChannelStore interface {
	GetByIDs(ctx context.Context, orgID int64, ids []string) ([]model.Channel, error)
}

// Materializer expands a campaign into one queue job per
// (recipient, channel) pair, spacing scheduled_at per channel to match
// the kind's configured send rate so the queue is born pre-paced.
type Materializer struct {
	jobs     JobStore
	channels ChannelStore
	resolver audience.Resolver
	rates    config.SendRatesConfig
}

func NewMaterializer(jobs JobStore, channels ChannelStore, resolver audience.Resolver, rates config.SendRatesConfig) *Materializer {
	return &Materializer{jobs: jobs, channels: channels, resolver: resolver, rates: rates}
}

// Materialize is idempotent: when jobs already exist for the campaign it
// returns their count without inserting. A crash between fanout and the
// status flip therefore cannot duplicate jobs on retry.
func (m *Materializer) Materialize(ctx context.Context, c *model.Campaign) (int64, error) {
	if n, err := m.jobs.CountByCampaign(ctx, c.ID); err != nil {
		return 0, fmt.Errorf("count existing jobs: %w", err)
	} else if n > 0 {
		return n, nil
	}

	chs, err := m.channels.GetByIDs(ctx, c.OrganizationID, c.ChannelIDs)
	if err != nil {
		return 0, fmt.Errorf("load channels: %w", err)
	}
	if len(chs) == 0 {
		return 0, ErrNoChannels
	}

	start := time.Now().UTC()
	if c.ScheduledAt != nil && c.ScheduledAt.After(start) {
		start = c.ScheduledAt.UTC()
	}

	var jobs []model.QueueJob
	for _, ch := range chs {
		ids, err := m.resolver.Resolve(ctx, c.OrganizationID, ch.Kind, c.Filter)
		if err != nil {
			return 0, fmt.Errorf("resolve audience for channel %s: %w", ch.ID, err)
		}

		interval := m.spacing(ch.Kind)
		for i, customerID := range ids {
			jobs = append(jobs, model.QueueJob{
				ID:             util.New(),
				CampaignID:     c.ID,
				OrganizationID: c.OrganizationID,
				CustomerID:     customerID,
				ChannelID:      ch.ID,
				ChannelKind:    ch.Kind,
				Status:         model.JobPending,
				ScheduledAt:    start.Add(time.Duration(i) * interval),
			})
		}
	}

	if err := m.jobs.BulkInsert(ctx, jobs); err != nil {
		return 0, fmt.Errorf("insert jobs: %w", err)
	}
	return int64(len(jobs)), nil
}

func (m *Materializer) spacing(kind model.ChannelKind) time.Duration {
	rate := m.rates.Of(kind.String())
	if rate.RPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate.RPS)
}
