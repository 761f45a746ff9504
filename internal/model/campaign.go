package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignProcessing CampaignStatus = "processing"
	CampaignPaused     CampaignStatus = "paused"
	CampaignCancelled  CampaignStatus = "cancelled"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignProcessing, CampaignPaused,
		CampaignCancelled, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// Terminal statuses never transition again.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCancelled || s == CampaignCompleted || s == CampaignFailed
}

// CanTransitionTo encodes the campaign lifecycle:
// draft|scheduled -> processing, processing <-> paused,
// processing|paused -> cancelled, processing -> completed|failed.
// A failed start (draft|scheduled -> failed) is also allowed.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignDraft, CampaignScheduled:
		return next == CampaignProcessing || next == CampaignFailed
	case CampaignProcessing:
		return next == CampaignPaused || next == CampaignCancelled ||
			next == CampaignCompleted || next == CampaignFailed
	case CampaignPaused:
		return next == CampaignProcessing || next == CampaignCancelled
	}
	return false
}

// ParseCampaignStatus normalizes input; empty is invalid.
func ParseCampaignStatus(s string) (CampaignStatus, bool) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Filter selects campaign recipients: customers matching any of the
// stages, any of the tags, and all attribute equality predicates.
type Filter struct {
	StageIDs   []string          `json:"stage_ids,omitempty"`
	TagIDs     []string          `json:"tag_ids,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (f Filter) Value() (driver.Value, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *Filter) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = Filter{}
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	}
	return fmt.Errorf("filter: unsupported scan type %T", src)
}

// StringList is a JSON-encoded string array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("string list: unsupported scan type %T", src)
}

// Campaign is the DB entity persisted in the campaigns table.
type Campaign struct {
	ID             string         `db:"id" json:"id"`
	OrganizationID int64          `db:"organization_id" json:"organization_id"`
	Name           string         `db:"name" json:"name"`
	Content        string         `db:"content" json:"content"`
	ChannelIDs     StringList     `db:"channel_ids" json:"channel_ids"`
	Filter         Filter         `db:"filter" json:"filter"`
	Status         CampaignStatus `db:"status" json:"status"`
	ScheduledAt    *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt      *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedBy      string         `db:"created_by" json:"created_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
