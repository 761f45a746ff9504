package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/engagekit/campaign-engine/internal/metrics"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/transport"
)

// jobResult is what processJob did with one claimed job.
type jobResult int

const (
	resultSent jobResult = iota
	resultFailed
	resultRetried
	resultReleased
)

// batchOutcome accumulates per-batch results for the summary log entry.
type batchOutcome struct {
	claimed  int
	sent     int
	failed   int
	retried  int
	released int
}

func (o batchOutcome) details() map[string]any {
	return map[string]any{
		"claimed":  o.claimed,
		"sent":     o.sent,
		"failed":   o.failed,
		"retried":  o.retried,
		"released": o.released,
	}
}

// runLoop is the per-campaign worker: claim due jobs, deliver them, and
// settle the campaign when the queue drains. Exactly one instance runs
// per registered campaign.
func (p *Processor) runLoop(campaignID string, r *run) {
	defer p.wg.Done()
	defer metrics.ActiveLoops.Dec()

	log := p.log.With(zap.String("campaign_id", campaignID))

	c, err := p.campaigns.Get(p.ctx, campaignID)
	if err != nil {
		log.Error("load campaign", zap.Error(err))
		p.loopExited(campaignID, r, false)
		return
	}
	if c == nil {
		log.Warn("registered campaign no longer exists")
		p.loopExited(campaignID, r, true)
		return
	}

	log.Info("worker loop started")

	for {
		switch p.signalFor(campaignID, r) {
		case stopPaused:
			log.Info("worker loop paused")
			p.pausedExit(campaignID, r)
			return
		case stopCancelled:
			log.Info("worker loop stopped")
			p.loopExited(campaignID, r, true)
			return
		}

		jobs, err := p.jobs.ClaimDue(p.ctx, campaignID, time.Now().UTC(), p.cfg.BatchSize)
		if err != nil {
			p.failCampaign(c, log, "claim queue jobs", err)
			p.loopExited(campaignID, r, true)
			return
		}

		if len(jobs) == 0 {
			// Claims left in processing by a crashed worker or a
			// shutdown that lost its context would count as
			// outstanding forever. Between batches this loop holds no
			// claims of its own, so anything past the cutoff is
			// orphaned and goes back to pending.
			cutoff := time.Now().UTC().Add(-p.cfg.StaleClaimAfter)
			reclaimed, err := p.jobs.ReclaimStale(p.ctx, campaignID, cutoff)
			if err != nil {
				log.Warn("reclaim stale claims", zap.Error(err))
			} else if reclaimed > 0 {
				log.Warn("reclaimed stale claims", zap.Int64("jobs", reclaimed))
				continue
			}

			settled, err := p.maybeComplete(c, log)
			if err != nil {
				p.failCampaign(c, log, "check outstanding jobs", err)
				p.loopExited(campaignID, r, true)
				return
			}
			if settled {
				p.loopExited(campaignID, r, true)
				return
			}
			// jobs exist but none are due yet
			select {
			case <-r.wake:
			case <-p.ctx.Done():
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		outcome := p.processBatch(c, jobs)

		entry := model.NewLogEntry(c.ID, c.OrganizationID, model.LogInfo,
			"batch dispatched", outcome.details())
		if err := p.logs.Append(p.ctx, entry); err != nil {
			log.Warn("append batch log", zap.Error(err))
		}
	}
}

// processBatch delivers every claimed job. The whole batch finishes even
// when a pause or cancel lands mid-batch: the rows are already claimed,
// and in-flight work is allowed to complete.
func (p *Processor) processBatch(c *model.Campaign, jobs []model.QueueJob) batchOutcome {
	outcome := batchOutcome{claimed: len(jobs)}
	for _, job := range jobs {
		switch p.processJob(c, job) {
		case resultSent:
			outcome.sent++
		case resultFailed:
			outcome.failed++
		case resultRetried:
			outcome.retried++
		case resultReleased:
			outcome.released++
		}
	}
	return outcome
}

// processJob runs one claimed job to its next status and reports it.
func (p *Processor) processJob(c *model.Campaign, job model.QueueJob) jobResult {
	log := p.log.With(zap.String("campaign_id", c.ID), zap.String("job_id", job.ID))
	kind := job.ChannelKind.String()

	if err := p.limiter.Acquire(p.ctx, job.ChannelKind, p.cfg.AcquireTimeout); err != nil {
		// Throughput bound hit; put the job back untouched.
		if _, err := p.jobs.Release(p.ctx, job.ID); err != nil {
			log.Warn("release job", zap.Error(err))
		}
		metrics.JobsTotal.WithLabelValues("released", kind).Inc()
		return resultReleased
	}

	sendCtx, cancel := context.WithTimeout(p.ctx, p.cfg.SendTimeout)
	sendErr := p.sender.Send(sendCtx, job, c.Content)
	cancel()

	if sendErr == nil {
		if _, err := p.jobs.MarkSent(p.ctx, job.ID); err != nil {
			log.Warn("mark sent", zap.Error(err))
		}
		metrics.JobsTotal.WithLabelValues("sent", kind).Inc()
		return resultSent
	}

	attempts := job.Attempts + 1
	if transport.Permanent(sendErr) || attempts >= p.cfg.MaxAttempts {
		if _, err := p.jobs.MarkFailed(p.ctx, job.ID, attempts, sendErr.Error()); err != nil {
			log.Warn("mark failed", zap.Error(err))
		}
		log.Warn("job failed", zap.Int("attempts", attempts), zap.Error(sendErr))
		metrics.JobsTotal.WithLabelValues("failed", kind).Inc()
		return resultFailed
	}

	at := time.Now().UTC().Add(p.backoff(attempts))
	if _, err := p.jobs.Reschedule(p.ctx, job.ID, at, attempts, sendErr.Error()); err != nil {
		log.Warn("reschedule job", zap.Error(err))
	}
	metrics.JobsTotal.WithLabelValues("retried", kind).Inc()
	return resultRetried
}

// backoff doubles per attempt from the configured base, capped.
func (p *Processor) backoff(attempt int) time.Duration {
	d := p.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.BackoffMax {
			return p.cfg.BackoffMax
		}
	}
	if d > p.cfg.BackoffMax {
		return p.cfg.BackoffMax
	}
	return d
}

// maybeComplete transitions the campaign to completed once nothing is
// outstanding. Returns true when the loop should stop.
func (p *Processor) maybeComplete(c *model.Campaign, log *zap.Logger) (bool, error) {
	counts, err := p.jobs.StatusCounts(p.ctx, c.ID)
	if err != nil {
		return false, err
	}

	outstanding := counts[model.JobPending] + counts[model.JobPaused] + counts[model.JobProcessing]
	if outstanding > 0 {
		return false, nil
	}

	ok, err := p.campaigns.Transition(p.ctx, c.ID,
		[]model.CampaignStatus{model.CampaignProcessing}, model.CampaignCompleted)
	if err != nil {
		return false, err
	}
	if !ok {
		// Someone else settled it (cancel raced the drain); nothing to do.
		return true, nil
	}

	metrics.CampaignsTotal.WithLabelValues(model.CampaignCompleted.String()).Inc()
	log.Info("campaign completed",
		zap.Int64("sent", counts[model.JobSent]),
		zap.Int64("failed", counts[model.JobFailed]),
		zap.Int64("cancelled", counts[model.JobCancelled]))

	entry := model.NewLogEntry(c.ID, c.OrganizationID, model.LogInfo, "campaign completed", map[string]any{
		"sent":      counts[model.JobSent],
		"failed":    counts[model.JobFailed],
		"cancelled": counts[model.JobCancelled],
	})
	if err := p.logs.Append(p.ctx, entry); err != nil {
		log.Warn("append completion log", zap.Error(err))
	}
	return true, nil
}

// failCampaign handles non-recoverable loop errors: force the campaign
// to failed and leave an error log entry.
func (p *Processor) failCampaign(c *model.Campaign, log *zap.Logger, op string, cause error) {
	log.Error("worker loop cannot make progress", zap.String("op", op), zap.Error(cause))

	ok, err := p.campaigns.Transition(p.ctx, c.ID,
		[]model.CampaignStatus{model.CampaignProcessing, model.CampaignPaused}, model.CampaignFailed)
	if err != nil {
		log.Error("transition to failed", zap.Error(err))
		return
	}
	if ok {
		metrics.CampaignsTotal.WithLabelValues(model.CampaignFailed.String()).Inc()
	}

	entry := model.NewLogEntry(c.ID, c.OrganizationID, model.LogError, "campaign failed", map[string]any{
		"op":    op,
		"error": cause.Error(),
	})
	if err := p.logs.Append(p.ctx, entry); err != nil {
		log.Warn("append failure log", zap.Error(err))
	}
}
