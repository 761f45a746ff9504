package model

import "time"

// CampaignEvent is the payload written to the outbox on every lifecycle
// transition and published to Kafka by the relay worker.
type CampaignEvent struct {
	CampaignID     string         `json:"campaign_id"`
	OrganizationID int64          `json:"organization_id"`
	Status         CampaignStatus `json:"status"`
	Jobs           int64          `json:"jobs,omitempty"` // rows affected by the transition
	OccurredAt     time.Time      `json:"occurred_at"`
}
