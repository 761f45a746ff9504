package campaign

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engagekit/campaign-engine/internal/audience"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/repository"
)

// ---- fakes ----

type fakeCampaigns struct {
	byID      map[string]*model.Campaign
	created   []*model.Campaign
	updated   []*model.Campaign
	deleted   []string
	lastLimit int
	lastOff   int
}

func newFakeCampaigns(cs ...*model.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{byID: make(map[string]*model.Campaign)}
	for _, c := range cs {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCampaigns) Create(_ context.Context, _ *sqlx.Tx, c *model.Campaign) error {
	f.byID[c.ID] = c
	f.created = append(f.created, c)
	return nil
}

func (f *fakeCampaigns) GetByID(_ context.Context, orgID int64, id string) (*model.Campaign, error) {
	c, ok := f.byID[id]
	if !ok || c.OrganizationID != orgID {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaigns) Get(_ context.Context, id string) (*model.Campaign, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaigns) Update(_ context.Context, _ *sqlx.Tx, c *model.Campaign) error {
	f.byID[c.ID] = c
	f.updated = append(f.updated, c)
	return nil
}

func (f *fakeCampaigns) Delete(_ context.Context, orgID int64, id string) (bool, error) {
	c, ok := f.byID[id]
	if !ok || c.OrganizationID != orgID {
		return false, nil
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeCampaigns) List(_ context.Context, orgID int64, status model.CampaignStatus, limit, offset int) ([]model.Campaign, int, error) {
	f.lastLimit = limit
	f.lastOff = offset
	return nil, 0, nil
}

func (f *fakeCampaigns) TransitionStatus(_ context.Context, _ *sqlx.Tx, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	c, ok := f.byID[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCampaigns) ListByStatus(context.Context, model.CampaignStatus) ([]model.Campaign, error) {
	return nil, nil
}

type fakeChannels struct {
	byID map[string]model.Channel
}

func (f *fakeChannels) GetByIDs(_ context.Context, orgID int64, ids []string) ([]model.Channel, error) {
	var out []model.Channel
	for _, id := range ids {
		if ch, ok := f.byID[id]; ok && ch.OrganizationID == orgID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannels) ListByOrg(context.Context, int64) ([]model.Channel, error) {
	return nil, nil
}

type fakeResolver struct {
	count int64
	err   error
}

func (f *fakeResolver) Estimate(context.Context, int64, string, model.Filter) (int64, error) {
	return f.count, f.err
}

func (f *fakeResolver) Resolve(context.Context, int64, model.ChannelKind, model.Filter) ([]int64, error) {
	return nil, nil
}

type fakeDispatcher struct {
	registered, paused, resumed, cancelled []string
}

func (f *fakeDispatcher) Register(id string) { f.registered = append(f.registered, id) }
func (f *fakeDispatcher) Pause(id string)    { f.paused = append(f.paused, id) }
func (f *fakeDispatcher) Resume(id string)   { f.resumed = append(f.resumed, id) }
func (f *fakeDispatcher) Cancel(id string)   { f.cancelled = append(f.cancelled, id) }

// fakeQueue holds per-job statuses so the bulk lifecycle flips can be
// observed. Only the methods the controller reaches matter.
type fakeQueue struct {
	statuses map[string]model.JobStatus
}

func (f *fakeQueue) BulkInsert(context.Context, []model.QueueJob) error { return nil }

func (f *fakeQueue) CountByCampaign(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeQueue) StatusCounts(context.Context, string) (map[model.JobStatus]int64, error) {
	counts := make(map[model.JobStatus]int64)
	for _, s := range f.statuses {
		counts[s]++
	}
	return counts, nil
}

func (f *fakeQueue) ClaimDue(context.Context, string, time.Time, int) ([]model.QueueJob, error) {
	return nil, nil
}

func (f *fakeQueue) MarkSent(context.Context, string) (bool, error) { return false, nil }

func (f *fakeQueue) MarkFailed(context.Context, string, int, string) (bool, error) {
	return false, nil
}

func (f *fakeQueue) Reschedule(context.Context, string, time.Time, int, string) (bool, error) {
	return false, nil
}

func (f *fakeQueue) Release(context.Context, string) (bool, error) { return false, nil }

func (f *fakeQueue) ReclaimStale(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeQueue) TransitionAll(_ context.Context, _ *sqlx.Tx, _ string, from, to model.JobStatus) (int64, error) {
	var n int64
	for id, s := range f.statuses {
		if s == from {
			f.statuses[id] = to
			n++
		}
	}
	return n, nil
}

func (f *fakeQueue) CancelActive(_ context.Context, _ *sqlx.Tx, _ string) (int64, error) {
	var n int64
	for id, s := range f.statuses {
		if s == model.JobPending || s == model.JobPaused || s == model.JobProcessing {
			f.statuses[id] = model.JobCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeQueue) List(context.Context, string, model.JobStatus, int, int) ([]model.QueueJob, int, error) {
	return nil, 0, nil
}

type fakeOutbox struct {
	events []model.CampaignEvent
	topics []string
}

func (f *fakeOutbox) Insert(_ context.Context, _ *sqlx.Tx, _, _, topic string, payload []byte) error {
	var ev model.CampaignEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	f.events = append(f.events, ev)
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeOutbox) FetchUnpublished(context.Context, int) ([]repository.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, []int64) error { return nil }

type fakeLogs struct {
	entries []model.LogEntry
}

func (f *fakeLogs) Append(_ context.Context, e model.LogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogs) List(context.Context, int64, string, model.LogLevel, int, int) ([]model.LogEntry, error) {
	return nil, nil
}

type fakeMaterializer struct {
	count int64
	err   error
	calls int
}

func (f *fakeMaterializer) Materialize(context.Context, *model.Campaign) (int64, error) {
	f.calls++
	return f.count, f.err
}

// nopDriver hands out transactions that commit against nothing, so the
// controller's transactional paths run without a database; the
// repository fakes never touch the connection.
type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("unexpected statement") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

func init() { sql.Register("noptx", nopDriver{}) }

func txDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sql.Open("noptx", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "noptx")
}

// ---- helpers ----

const orgID = int64(42)

func testService(campaigns *fakeCampaigns, channels *fakeChannels) (*Service, *fakeDispatcher) {
	d := &fakeDispatcher{}
	svc := New(nil, campaigns, nil, channels, nil, nil, &fakeResolver{}, nil, d, "campaign.events", zap.NewNop())
	return svc, d
}

func activeChannels(ids ...string) *fakeChannels {
	f := &fakeChannels{byID: make(map[string]model.Channel)}
	for _, id := range ids {
		f.byID[id] = model.Channel{ID: id, OrganizationID: orgID, Kind: model.ChannelEmail, Status: "active"}
	}
	return f
}

// lifecycleFixture wires the controller over the no-op tx driver so
// Start/Pause/Resume/Cancel run their full transactional path.
type lifecycleFixture struct {
	svc        *Service
	campaigns  *fakeCampaigns
	queue      *fakeQueue
	outbox     *fakeOutbox
	dispatcher *fakeDispatcher
	mat        *fakeMaterializer
}

func lifecycleService(t *testing.T, c *model.Campaign, jobs map[string]model.JobStatus) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		campaigns:  newFakeCampaigns(c),
		queue:      &fakeQueue{statuses: jobs},
		outbox:     &fakeOutbox{},
		dispatcher: &fakeDispatcher{},
		mat:        &fakeMaterializer{count: int64(len(jobs))},
	}
	f.svc = New(txDB(t), f.campaigns, f.queue, activeChannels("ch1"), f.outbox, &fakeLogs{},
		&fakeResolver{}, f.mat, f.dispatcher, "campaign.events", zap.NewNop())
	return f
}

func validInput() CreateInput {
	return CreateInput{
		Name:       "spring launch",
		Content:    "hello",
		ChannelIDs: []string{"ch1"},
	}
}

// ---- tests ----

func TestCreateDraftByDefault(t *testing.T) {
	campaigns := newFakeCampaigns()
	svc, _ := testService(campaigns, activeChannels("ch1"))

	c, err := svc.Create(context.Background(), orgID, validInput())
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, orgID, c.OrganizationID)
	assert.NotEmpty(t, c.ID)
	require.Len(t, campaigns.created, 1)
}

func TestCreateScheduledWhenFutureTimeGiven(t *testing.T) {
	svc, _ := testService(newFakeCampaigns(), activeChannels("ch1"))

	in := validInput()
	at := time.Now().Add(time.Hour)
	in.ScheduledAt = &at

	c, err := svc.Create(context.Background(), orgID, in)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignScheduled, c.Status)
}

func TestCreatePastScheduleStaysDraft(t *testing.T) {
	svc, _ := testService(newFakeCampaigns(), activeChannels("ch1"))

	in := validInput()
	at := time.Now().Add(-time.Hour)
	in.ScheduledAt = &at

	c, err := svc.Create(context.Background(), orgID, in)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.Status)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := testService(newFakeCampaigns(), activeChannels("ch1"))

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing name", func(in *CreateInput) { in.Name = "" }},
		{"missing content", func(in *CreateInput) { in.Content = "" }},
		{"no channels", func(in *CreateInput) { in.ChannelIDs = nil }},
		{"unknown channel", func(in *CreateInput) { in.ChannelIDs = []string{"ghost"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), orgID, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestGetScopedToOrganization(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignDraft}
	svc, _ := testService(newFakeCampaigns(c), activeChannels())

	got, err := svc.Get(context.Background(), orgID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	_, err = svc.Get(context.Background(), orgID+1, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(context.Background(), orgID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRejectedWhileProcessing(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignProcessing}
	svc, _ := testService(newFakeCampaigns(c), activeChannels("ch1"))

	_, err := svc.Update(context.Background(), orgID, "c1", validInput())
	assert.ErrorIs(t, err, ErrCampaignLocked)
}

func TestUpdateDraft(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignDraft, Name: "old"}
	campaigns := newFakeCampaigns(c)
	svc, _ := testService(campaigns, activeChannels("ch1"))

	got, err := svc.Update(context.Background(), orgID, "c1", validInput())
	require.NoError(t, err)
	assert.Equal(t, "spring launch", got.Name)
	require.Len(t, campaigns.updated, 1)
}

func TestDeleteRejectedWhileProcessing(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignProcessing}
	svc, _ := testService(newFakeCampaigns(c), activeChannels())

	err := svc.Delete(context.Background(), orgID, "c1")
	assert.ErrorIs(t, err, ErrCampaignLocked)
}

func TestDeleteSettledCampaign(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignCompleted}
	campaigns := newFakeCampaigns(c)
	svc, _ := testService(campaigns, activeChannels())

	require.NoError(t, svc.Delete(context.Background(), orgID, "c1"))
	assert.Equal(t, []string{"c1"}, campaigns.deleted)
}

func TestListClampsPagination(t *testing.T) {
	campaigns := newFakeCampaigns()
	svc, _ := testService(campaigns, activeChannels())

	_, _, err := svc.List(context.Background(), orgID, "", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, campaigns.lastLimit)
	assert.Equal(t, 0, campaigns.lastOff)

	_, _, err = svc.List(context.Background(), orgID, "", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, campaigns.lastLimit)
	assert.Equal(t, 20, campaigns.lastOff)
}

func TestLifecycleGuards(t *testing.T) {
	cases := []struct {
		name   string
		status model.CampaignStatus
		call   func(*Service) error
	}{
		{"start while processing", model.CampaignProcessing, func(s *Service) error {
			_, err := s.Start(context.Background(), orgID, "c1")
			return err
		}},
		{"start after completion", model.CampaignCompleted, func(s *Service) error {
			_, err := s.Start(context.Background(), orgID, "c1")
			return err
		}},
		{"pause a draft", model.CampaignDraft, func(s *Service) error {
			return s.Pause(context.Background(), orgID, "c1")
		}},
		{"pause after cancel", model.CampaignCancelled, func(s *Service) error {
			return s.Pause(context.Background(), orgID, "c1")
		}},
		{"resume while processing", model.CampaignProcessing, func(s *Service) error {
			return s.Resume(context.Background(), orgID, "c1")
		}},
		{"cancel a draft", model.CampaignDraft, func(s *Service) error {
			return s.Cancel(context.Background(), orgID, "c1")
		}},
		{"cancel after completion", model.CampaignCompleted, func(s *Service) error {
			return s.Cancel(context.Background(), orgID, "c1")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: tc.status}
			svc, d := testService(newFakeCampaigns(c), activeChannels())

			err := tc.call(svc)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Empty(t, d.registered)
			assert.Empty(t, d.paused)
			assert.Empty(t, d.resumed)
			assert.Empty(t, d.cancelled)
		})
	}
}

func TestStartMaterializesAndDispatches(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignDraft}
	f := lifecycleService(t, c, map[string]model.JobStatus{
		"j1": model.JobPending,
		"j2": model.JobPending,
	})

	n, err := f.svc.Start(context.Background(), orgID, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, model.CampaignProcessing, f.campaigns.byID["c1"].Status)
	assert.Equal(t, []string{"c1"}, f.dispatcher.registered)
	assert.Equal(t, 1, f.mat.calls)

	require.Len(t, f.outbox.events, 1)
	ev := f.outbox.events[0]
	assert.Equal(t, "c1", ev.CampaignID)
	assert.Equal(t, model.CampaignProcessing, ev.Status)
	assert.EqualValues(t, 2, ev.Jobs)
	assert.Equal(t, []string{"campaign.events"}, f.outbox.topics)
}

func TestStartMaterializeFailureSettlesFailed(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignDraft}
	f := lifecycleService(t, c, nil)
	f.mat.err = errors.New("audience query failed")

	_, err := f.svc.Start(context.Background(), orgID, "c1")
	require.Error(t, err)
	assert.Equal(t, model.CampaignFailed, f.campaigns.byID["c1"].Status)
	assert.Empty(t, f.dispatcher.registered)

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, model.CampaignFailed, f.outbox.events[0].Status)
}

func TestPauseFlipsPendingJobsOnly(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignProcessing}
	f := lifecycleService(t, c, map[string]model.JobStatus{
		"j1": model.JobPending,
		"j2": model.JobPending,
		"j3": model.JobProcessing,
		"j4": model.JobSent,
		"j5": model.JobFailed,
	})

	require.NoError(t, f.svc.Pause(context.Background(), orgID, "c1"))

	assert.Equal(t, model.CampaignPaused, f.campaigns.byID["c1"].Status)
	assert.Equal(t, []string{"c1"}, f.dispatcher.paused)
	assert.Equal(t, model.JobPaused, f.queue.statuses["j1"])
	assert.Equal(t, model.JobPaused, f.queue.statuses["j2"])
	assert.Equal(t, model.JobProcessing, f.queue.statuses["j3"], "in-flight work is left to finish")
	assert.Equal(t, model.JobSent, f.queue.statuses["j4"])
	assert.Equal(t, model.JobFailed, f.queue.statuses["j5"])

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, model.CampaignPaused, f.outbox.events[0].Status)
	assert.EqualValues(t, 2, f.outbox.events[0].Jobs)
}

func TestResumeRestoresExactlyThePausedSet(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignProcessing}
	f := lifecycleService(t, c, map[string]model.JobStatus{
		"j1": model.JobPending,
		"j2": model.JobPending,
		"j3": model.JobSent,
	})

	require.NoError(t, f.svc.Pause(context.Background(), orgID, "c1"))
	require.NoError(t, f.svc.Resume(context.Background(), orgID, "c1"))

	assert.Equal(t, model.CampaignProcessing, f.campaigns.byID["c1"].Status)
	assert.Equal(t, []string{"c1"}, f.dispatcher.resumed)
	assert.Equal(t, map[string]model.JobStatus{
		"j1": model.JobPending,
		"j2": model.JobPending,
		"j3": model.JobSent,
	}, f.queue.statuses, "resume undoes exactly what pause did")

	require.Len(t, f.outbox.events, 2)
	assert.Equal(t, model.CampaignPaused, f.outbox.events[0].Status)
	assert.Equal(t, model.CampaignProcessing, f.outbox.events[1].Status)
	assert.EqualValues(t, 2, f.outbox.events[1].Jobs)
}

func TestCancelCancelsActiveJobs(t *testing.T) {
	c := &model.Campaign{ID: "c1", OrganizationID: orgID, Status: model.CampaignProcessing}
	f := lifecycleService(t, c, map[string]model.JobStatus{
		"j1": model.JobPending,
		"j2": model.JobPaused,
		"j3": model.JobProcessing,
		"j4": model.JobSent,
	})

	require.NoError(t, f.svc.Cancel(context.Background(), orgID, "c1"))

	assert.Equal(t, model.CampaignCancelled, f.campaigns.byID["c1"].Status)
	assert.Equal(t, []string{"c1"}, f.dispatcher.cancelled)
	assert.Equal(t, model.JobCancelled, f.queue.statuses["j1"])
	assert.Equal(t, model.JobCancelled, f.queue.statuses["j2"])
	assert.Equal(t, model.JobCancelled, f.queue.statuses["j3"])
	assert.Equal(t, model.JobSent, f.queue.statuses["j4"], "delivered jobs stay delivered")

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, model.CampaignCancelled, f.outbox.events[0].Status)
	assert.EqualValues(t, 3, f.outbox.events[0].Jobs)
}

func TestEstimateMapsUnknownChannel(t *testing.T) {
	d := &fakeDispatcher{}
	resolver := &fakeResolver{err: audience.ErrUnknownChannel}
	svc := New(nil, newFakeCampaigns(), nil, activeChannels(), nil, nil, resolver, nil, d, "campaign.events", zap.NewNop())

	_, err := svc.Estimate(context.Background(), orgID, "ghost", model.Filter{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEstimateReturnsCount(t *testing.T) {
	d := &fakeDispatcher{}
	resolver := &fakeResolver{count: 123}
	svc := New(nil, newFakeCampaigns(), nil, activeChannels(), nil, nil, resolver, nil, d, "campaign.events", zap.NewNop())

	n, err := svc.Estimate(context.Background(), orgID, "ch1", model.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 123, n)
}

func TestEstimateOtherErrorsPassThrough(t *testing.T) {
	d := &fakeDispatcher{}
	resolver := &fakeResolver{err: errors.New("db gone")}
	svc := New(nil, newFakeCampaigns(), nil, activeChannels(), nil, nil, resolver, nil, d, "campaign.events", zap.NewNop())

	_, err := svc.Estimate(context.Background(), orgID, "ch1", model.Filter{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
}
