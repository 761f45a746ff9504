package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/engagekit/campaign-engine/internal/audience"
	"github.com/engagekit/campaign-engine/internal/metrics"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/repository"
	"github.com/engagekit/campaign-engine/internal/util"
)

var (
	ErrNotFound          = errors.New("campaign not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrCampaignLocked rejects edits while a campaign is actively
	// dispatching.
	ErrCampaignLocked = errors.New("campaign is processing")
)

// Dispatcher is the processor surface the controller signals.
type Dispatcher interface {
	Register(campaignID string)
	Pause(campaignID string)
	Resume(campaignID string)
	Cancel(campaignID string)
}

// Materializer performs the authoritative fanout.
type Materializer interface {
	Materialize(ctx context.Context, c *model.Campaign) (int64, error)
}

// Service is the campaign controller: it validates lifecycle requests,
// mutates campaign and queue rows transactionally, and signals the
// dispatch processor. It never panics across its boundary; callers map
// the sentinel errors to HTTP statuses.
type Service struct {
	db           *sqlx.DB
	campaigns    repository.CampaignsRepository
	jobs         repository.QueueJobsRepository
	channels     repository.ChannelsRepository
	outbox       repository.OutboxRepository
	logs         repository.LogsRepository
	resolver     audience.Resolver
	materializer Materializer
	dispatcher   Dispatcher
	eventsTopic  string
	log          *zap.Logger
}

func New(
	db *sqlx.DB,
	campaigns repository.CampaignsRepository,
	jobs repository.QueueJobsRepository,
	channels repository.ChannelsRepository,
	outbox repository.OutboxRepository,
	logs repository.LogsRepository,
	resolver audience.Resolver,
	materializer Materializer,
	dispatcher Dispatcher,
	eventsTopic string,
	log *zap.Logger,
) *Service {
	return &Service{
		db:           db,
		campaigns:    campaigns,
		jobs:         jobs,
		channels:     channels,
		outbox:       outbox,
		logs:         logs,
		resolver:     resolver,
		materializer: materializer,
		dispatcher:   dispatcher,
		eventsTopic:  eventsTopic,
		log:          log,
	}
}

// CreateInput carries operator-supplied campaign fields.
type CreateInput struct {
	Name        string
	Content     string
	ChannelIDs  []string
	Filter      model.Filter
	ScheduledAt *time.Time
	CreatedBy   string
}

func (s *Service) validate(ctx context.Context, orgID int64, in CreateInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(in.ChannelIDs) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}

	chs, err := s.channels.GetByIDs(ctx, orgID, in.ChannelIDs)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	if len(chs) != len(in.ChannelIDs) {
		return fmt.Errorf("%w: unknown or disabled channel id", ErrValidation)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, orgID int64, in CreateInput) (*model.Campaign, error) {
	if err := s.validate(ctx, orgID, in); err != nil {
		return nil, err
	}

	status := model.CampaignDraft
	if in.ScheduledAt != nil && in.ScheduledAt.After(time.Now()) {
		status = model.CampaignScheduled
	}

	c := &model.Campaign{
		ID:             util.New(),
		OrganizationID: orgID,
		Name:           in.Name,
		Content:        in.Content,
		ChannelIDs:     in.ChannelIDs,
		Filter:         in.Filter,
		Status:         status,
		ScheduledAt:    in.ScheduledAt,
		CreatedBy:      in.CreatedBy,
	}
	if err := s.campaigns.Create(ctx, nil, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, orgID int64, id string) (*model.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, orgID int64, status model.CampaignStatus, page, limit int) ([]model.Campaign, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.campaigns.List(ctx, orgID, status, limit, (page-1)*limit)
}

func (s *Service) Update(ctx context.Context, orgID int64, id string, in CreateInput) (*model.Campaign, error) {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignProcessing {
		return nil, ErrCampaignLocked
	}
	if err := s.validate(ctx, orgID, in); err != nil {
		return nil, err
	}

	c.Name = in.Name
	c.Content = in.Content
	c.ChannelIDs = in.ChannelIDs
	c.Filter = in.Filter
	c.ScheduledAt = in.ScheduledAt
	if err := s.campaigns.Update(ctx, nil, c); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, orgID int64, id string) error {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignProcessing {
		return ErrCampaignLocked
	}
	ok, err := s.campaigns.Delete(ctx, orgID, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Start materializes the campaign's queue and flips it to processing.
// Materialization runs before (and outside) the status transaction: it
// is idempotent, so a crash in between only means the retry finds the
// jobs already there.
func (s *Service) Start(ctx context.Context, orgID int64, id string) (int64, error) {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return 0, err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return 0, fmt.Errorf("%w: cannot start campaign in status %s", ErrInvalidTransition, c.Status)
	}

	n, err := s.materializer.Materialize(ctx, c)
	if err != nil {
		s.forceFailed(ctx, c, err)
		return 0, fmt.Errorf("materialize campaign: %w", err)
	}

	flipped, err := s.transition(ctx, c,
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled},
		model.CampaignProcessing, n, nil)
	if err != nil {
		return 0, err
	}
	if !flipped {
		return 0, fmt.Errorf("%w: campaign was started concurrently", ErrInvalidTransition)
	}

	s.dispatcher.Register(c.ID)
	s.appendLog(ctx, c, model.LogInfo, "campaign started", map[string]any{"jobs": n})
	return n, nil
}

func (s *Service) Pause(ctx context.Context, orgID int64, id string) error {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignProcessing {
		return fmt.Errorf("%w: cannot pause campaign in status %s", ErrInvalidTransition, c.Status)
	}

	var paused int64
	flipped, err := s.transition(ctx, c,
		[]model.CampaignStatus{model.CampaignProcessing}, model.CampaignPaused, 0,
		func(tx *sqlx.Tx) (int64, error) {
			n, err := s.jobs.TransitionAll(ctx, tx, c.ID, model.JobPending, model.JobPaused)
			paused = n
			return n, err
		})
	if err != nil {
		return err
	}
	if !flipped {
		return fmt.Errorf("%w: campaign is no longer processing", ErrInvalidTransition)
	}

	s.dispatcher.Pause(c.ID)
	s.appendLog(ctx, c, model.LogInfo, "campaign paused", map[string]any{"jobs_paused": paused})
	return nil
}

func (s *Service) Resume(ctx context.Context, orgID int64, id string) error {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignPaused {
		return fmt.Errorf("%w: cannot resume campaign in status %s", ErrInvalidTransition, c.Status)
	}

	var resumed int64
	flipped, err := s.transition(ctx, c,
		[]model.CampaignStatus{model.CampaignPaused}, model.CampaignProcessing, 0,
		func(tx *sqlx.Tx) (int64, error) {
			n, err := s.jobs.TransitionAll(ctx, tx, c.ID, model.JobPaused, model.JobPending)
			resumed = n
			return n, err
		})
	if err != nil {
		return err
	}
	if !flipped {
		return fmt.Errorf("%w: campaign is not paused", ErrInvalidTransition)
	}

	s.dispatcher.Resume(c.ID)
	s.appendLog(ctx, c, model.LogInfo, "campaign resumed", map[string]any{"jobs_resumed": resumed})
	return nil
}

func (s *Service) Cancel(ctx context.Context, orgID int64, id string) error {
	c, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignProcessing && c.Status != model.CampaignPaused {
		return fmt.Errorf("%w: cannot cancel campaign in status %s", ErrInvalidTransition, c.Status)
	}

	var cancelled int64
	flipped, err := s.transition(ctx, c,
		[]model.CampaignStatus{model.CampaignProcessing, model.CampaignPaused}, model.CampaignCancelled, 0,
		func(tx *sqlx.Tx) (int64, error) {
			n, err := s.jobs.CancelActive(ctx, tx, c.ID)
			cancelled = n
			return n, err
		})
	if err != nil {
		return err
	}
	if !flipped {
		return fmt.Errorf("%w: campaign already settled", ErrInvalidTransition)
	}

	s.dispatcher.Cancel(c.ID)
	s.appendLog(ctx, c, model.LogInfo, "campaign cancelled", map[string]any{"jobs_cancelled": cancelled})
	return nil
}

// Estimate is the non-authoritative preview count for one channel.
func (s *Service) Estimate(ctx context.Context, orgID int64, channelID string, f model.Filter) (int64, error) {
	n, err := s.resolver.Estimate(ctx, orgID, channelID, f)
	if errors.Is(err, audience.ErrUnknownChannel) {
		return 0, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	return n, err
}

func (s *Service) ListQueue(ctx context.Context, orgID int64, id string, status model.JobStatus, page, limit int) ([]model.QueueJob, int, error) {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.jobs.List(ctx, id, status, limit, (page-1)*limit)
}

func (s *Service) ListLogs(ctx context.Context, orgID int64, id string, level model.LogLevel, page, limit int) ([]model.LogEntry, error) {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.logs.List(ctx, orgID, id, level, limit, (page-1)*limit)
}

// transition flips the campaign status, runs the optional bulk job flip,
// and appends the lifecycle event to the outbox, all in one transaction.
func (s *Service) transition(
	ctx context.Context,
	c *model.Campaign,
	from []model.CampaignStatus,
	to model.CampaignStatus,
	jobs int64,
	bulk func(tx *sqlx.Tx) (int64, error),
) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := s.campaigns.TransitionStatus(ctx, tx, c.ID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition campaign status: %w", err)
	}
	if !ok {
		return false, nil
	}

	if bulk != nil {
		n, err := bulk(tx)
		if err != nil {
			return false, fmt.Errorf("transition queue jobs: %w", err)
		}
		if jobs == 0 {
			jobs = n
		}
	}

	event := model.CampaignEvent{
		CampaignID:     c.ID,
		OrganizationID: c.OrganizationID,
		Status:         to,
		Jobs:           jobs,
		OccurredAt:     time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("marshal lifecycle event: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, "campaign", c.ID, s.eventsTopic, payload); err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	c.Status = to
	metrics.CampaignsTotal.WithLabelValues(to.String()).Inc()
	return true, nil
}

// forceFailed settles a campaign whose start could not materialize.
func (s *Service) forceFailed(ctx context.Context, c *model.Campaign, cause error) {
	flipped, err := s.transition(ctx, c,
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled},
		model.CampaignFailed, 0, nil)
	if err != nil {
		s.log.Error("force campaign failed", zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}
	if flipped {
		s.appendLog(ctx, c, model.LogError, "campaign failed", map[string]any{"error": cause.Error()})
	}
}

func (s *Service) appendLog(ctx context.Context, c *model.Campaign, level model.LogLevel, msg string, details map[string]any) {
	entry := model.NewLogEntry(c.ID, c.OrganizationID, level, msg, details)
	if err := s.logs.Append(ctx, entry); err != nil {
		s.log.Warn("append campaign log", zap.String("campaign_id", c.ID), zap.Error(err))
	}
}
