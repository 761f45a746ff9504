package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/metrics"
	"github.com/engagekit/campaign-engine/internal/model"
)

// CampaignStore is the slice of campaign persistence the processor needs.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*model.Campaign, error)
	// Transition flips the campaign status only when its current status
	// is one of `from`.
	Transition(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
}

// JobStore is the slice of queue persistence the worker loop needs.
// Every mutation is a guarded conditional update; the bool result says
// whether the guard matched.
type JobStore interface {
	ClaimDue(ctx context.Context, campaignID string, now time.Time, limit int) ([]model.QueueJob, error)
	StatusCounts(ctx context.Context, campaignID string) (map[model.JobStatus]int64, error)
	MarkSent(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) (bool, error)
	Reschedule(ctx context.Context, id string, at time.Time, attempts int, lastErr string) (bool, error)
	Release(ctx context.Context, id string) (bool, error)
	ReclaimStale(ctx context.Context, campaignID string, olderThan time.Time) (int64, error)
}

// LogStore appends campaign log entries.
type LogStore interface {
	Append(ctx context.Context, e model.LogEntry) error
}

// Sender delivers one job; satisfied by *transport.Registry.
type Sender interface {
	Send(ctx context.Context, job model.QueueJob, content string) error
}

type runState int32

const (
	stateActive runState = iota
	statePaused
)

// run is the registry entry for one campaign. The entry survives a
// paused loop's exit so the pause signal is still observable; cancel
// removes the entry entirely.
type run struct {
	state       runState
	loopRunning bool
	wake        chan struct{} // interrupts the idle sleep
}

func (r *run) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Processor is the process-wide dispatch scheduler: a registry of
// campaign runs, each served by at most one worker loop. Job status
// truth lives in the Queue Store; the registry is only the coordination
// signal and is re-derivable from durable campaign status (Recover).
type Processor struct {
	campaigns CampaignStore
	jobs      JobStore
	logs      LogStore
	sender    Sender
	limiter   *Limiter
	cfg       config.DispatcherConfig
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

func NewProcessor(
	campaigns CampaignStore,
	jobs JobStore,
	logs LogStore,
	sender Sender,
	limiter *Limiter,
	cfg config.DispatcherConfig,
	log *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Minute
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 3 * time.Second
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		campaigns: campaigns,
		jobs:      jobs,
		logs:      logs,
		sender:    sender,
		limiter:   limiter,
		cfg:       cfg,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*run),
	}
}

// Register marks the campaign active and starts a worker loop if none is
// running. Idempotent: a second call while a loop is live is a no-op,
// which is what enforces the one-loop-per-campaign invariant.
func (p *Processor) Register(campaignID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.runs[campaignID]
	if !ok {
		r = &run{wake: make(chan struct{}, 1)}
		p.runs[campaignID] = r
	}
	r.state = stateActive
	if r.loopRunning {
		return
	}
	p.startLoopLocked(campaignID, r)
}

// startLoopLocked spawns the worker loop; p.mu must be held.
func (p *Processor) startLoopLocked(campaignID string, r *run) {
	r.loopRunning = true
	p.wg.Add(1)
	metrics.ActiveLoops.Inc()
	go p.runLoop(campaignID, r)
}

// Pause flips the signal; the loop observes it before its next claim and
// exits without cancelling in-flight work. The registry entry stays so
// Resume can flip it back.
func (p *Processor) Pause(campaignID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.runs[campaignID]; ok {
		r.state = statePaused
		r.notify()
	}
}

// Resume re-activates the campaign and restarts its loop if none is
// running.
func (p *Processor) Resume(campaignID string) {
	p.Register(campaignID)
}

// Cancel removes the campaign from the registry; the loop exits after
// finishing its current batch.
func (p *Processor) Cancel(campaignID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.runs[campaignID]; ok {
		delete(p.runs, campaignID)
		r.notify()
	}
}

// Recover re-registers every campaign left in processing state. Called
// on process start: a crashed or redeployed instance must not leave
// processing campaigns silently stalled.
func (p *Processor) Recover(ctx context.Context) error {
	active, err := p.campaigns.ListByStatus(ctx, model.CampaignProcessing)
	if err != nil {
		return err
	}
	for _, c := range active {
		p.log.Info("recovering campaign", zap.String("campaign_id", c.ID))
		p.Register(c.ID)
	}
	return nil
}

// Shutdown stops every loop and waits for them, bounded by ctx.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.cancel()

	p.mu.Lock()
	for _, r := range p.runs {
		r.notify()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalFor reports how the loop should proceed: keep going, stop
// because paused, or stop because cancelled/shutdown.
type loopSignal int

const (
	keepGoing loopSignal = iota
	stopPaused
	stopCancelled
)

func (p *Processor) signalFor(campaignID string, r *run) loopSignal {
	select {
	case <-p.ctx.Done():
		return stopCancelled
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.runs[campaignID]
	if !ok || cur != r {
		return stopCancelled
	}
	if r.state == statePaused {
		return stopPaused
	}
	return keepGoing
}

// loopExited clears the running flag; a completed or failed loop also
// drops the registry entry.
func (p *Processor) loopExited(campaignID string, r *run, remove bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r.loopRunning = false
	if remove {
		if cur, ok := p.runs[campaignID]; ok && cur == r {
			delete(p.runs, campaignID)
		}
	}
}

// pausedExit clears the running flag but keeps the registry entry. A
// Resume that lands while the loop is still unwinding sees loopRunning
// set and no-ops, so when the entry is active again by the time the
// flag clears, the exiting loop restarts on the resume's behalf.
func (p *Processor) pausedExit(campaignID string, r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r.loopRunning = false

	select {
	case <-p.ctx.Done():
		return
	default:
	}
	if cur, ok := p.runs[campaignID]; ok && cur == r && r.state == stateActive {
		p.startLoopLocked(campaignID, r)
	}
}

// Registered reports whether the campaign is present in the registry.
func (p *Processor) Registered(campaignID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.runs[campaignID]
	return ok
}
