package model

import (
	"strings"
	"time"
)

type ChannelKind string

const (
	ChannelWhatsApp  ChannelKind = "whatsapp"
	ChannelInstagram ChannelKind = "instagram"
	ChannelFacebook  ChannelKind = "facebook"
	ChannelEmail     ChannelKind = "email"
)

func (k ChannelKind) String() string { return string(k) }

func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelWhatsApp, ChannelInstagram, ChannelFacebook, ChannelEmail:
		return true
	}
	return false
}

func ParseChannelKind(s string) (ChannelKind, bool) {
	k := ChannelKind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Kinds lists every supported channel kind.
func Kinds() []ChannelKind {
	return []ChannelKind{ChannelWhatsApp, ChannelInstagram, ChannelFacebook, ChannelEmail}
}

// Channel is a connected send account owned by an organization.
type Channel struct {
	ID             string      `db:"id" json:"id"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	Kind           ChannelKind `db:"kind" json:"kind"`
	Name           string      `db:"name" json:"name"`
	Status         string      `db:"status" json:"status"` // active|disabled
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}
