package model

import "time"

// Organization owns campaigns, channels, and customers. API keys
// authenticate the HTTP surface.
type Organization struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	APIKey       string    `db:"api_key" json:"-"`
	Status       string    `db:"status" json:"status"`    // active|suspended
	RateLimitRPS *int      `db:"rate_limit_rps" json:"-"` // nullable
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
