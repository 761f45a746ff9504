package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Attributes is a JSON object column of custom-field values.
type Attributes map[string]string

func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		a = Attributes{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Attributes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return fmt.Errorf("attributes: unsupported scan type %T", src)
}

// Customer is a campaign recipient owned by an organization.
type Customer struct {
	ID             int64      `db:"id" json:"id"`
	OrganizationID int64      `db:"organization_id" json:"organization_id"`
	Name           string     `db:"name" json:"name"`
	Phone          string     `db:"phone" json:"phone"`
	Email          string     `db:"email" json:"email"`
	StageID        string     `db:"stage_id" json:"stage_id"`
	TagIDs         StringList `db:"tag_ids" json:"tag_ids"`
	Attributes     Attributes `db:"attributes" json:"attributes"`
	Status         string     `db:"status" json:"status"` // active|archived
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
