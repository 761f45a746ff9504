package model

import (
	"encoding/json"
	"strings"
	"time"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) Valid() bool {
	return l == LogInfo || l == LogWarn || l == LogError
}

func ParseLogLevel(s string) (LogLevel, bool) {
	l := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// LogEntry is an append-only campaign log record. The engine only writes
// entries; the HTTP listing reads them back from ClickHouse.
type LogEntry struct {
	CampaignID     string    `db:"campaign_id" json:"campaign_id"`
	OrganizationID int64     `db:"organization_id" json:"organization_id"`
	Level          LogLevel  `db:"level" json:"level"`
	Message        string    `db:"message" json:"message"`
	Details        string    `db:"details" json:"details"` // JSON object
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// NewLogEntry builds an entry with marshalled details. Marshal failures
// degrade to an empty object rather than dropping the line.
func NewLogEntry(campaignID string, orgID int64, level LogLevel, message string, details map[string]any) LogEntry {
	payload := "{}"
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}
	return LogEntry{
		CampaignID:     campaignID,
		OrganizationID: orgID,
		Level:          level,
		Message:        message,
		Details:        payload,
		CreatedAt:      time.Now().UTC(),
	}
}
