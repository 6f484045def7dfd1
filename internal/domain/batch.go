package domain

import (
	"strings"
	"time"
)

// Brief describes the work a batch should produce. It mirrors the brand
// brief captured at project creation.
type Brief struct {
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	Description string `json:"description"`
}

// Validate reports whether the brief carries enough signal to generate from.
func (b Brief) Validate() error {
	if strings.TrimSpace(b.CompanyName) == "" && strings.TrimSpace(b.Description) == "" {
		return ErrInvalidBrief
	}
	return nil
}

// Batch groups the assets produced by one triggering request. It exists for
// grouping only; its lifecycle is the aggregate of its items' lifecycles.
type Batch struct {
	ID             string
	ProjectID      string
	OwnerID        string
	RequestedCount int
	CreatedAt      time.Time
}
