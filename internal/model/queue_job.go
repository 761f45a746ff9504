package model

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSent       JobStatus = "sent"
	JobFailed     JobStatus = "failed"
	JobPaused     JobStatus = "paused"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobSent, JobFailed, JobPaused, JobCancelled:
		return true
	}
	return false
}

// Terminal job statuses are never updated again. `failed` is terminal
// because a job that exhausted its retry budget must not be re-claimed.
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobCancelled || s == JobFailed
}

func ParseJobStatus(s string) (JobStatus, bool) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// QueueJob is one scheduled send to one recipient on one channel.
// Rows are created in bulk at fanout and only transitioned afterward.
// ChannelKind is denormalized from the channel row so the dispatch loop
// can pick a transport and a rate bucket without a lookup.
type QueueJob struct {
	ID             string      `db:"id" json:"id"`
	CampaignID     string      `db:"campaign_id" json:"campaign_id"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	CustomerID     int64       `db:"customer_id" json:"customer_id"`
	ChannelID      string      `db:"channel_id" json:"channel_id"`
	ChannelKind    ChannelKind `db:"channel_kind" json:"channel_kind"`
	Status         JobStatus   `db:"status" json:"status"`
	ScheduledAt    time.Time   `db:"scheduled_at" json:"scheduled_at"`
	Attempts       int         `db:"attempts" json:"attempts"`
	LastError      string      `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}
