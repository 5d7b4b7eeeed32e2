// Package missions stores mission definitions and starts them.
package missions

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Params drive what a mission does when triggered.
type Params struct {
	Query         string `json:"query,omitempty"`
	SearchLimit   int    `json:"searchLimit,omitempty"`
	CampaignID    string `json:"campaignId,omitempty"`
	CampaignBrief string `json:"campaignBrief,omitempty"`
	StepCount     int    `json:"stepCount,omitempty"`
	AutoContact   bool   `json:"autoContact,omitempty"`
}

// NeedsCampaign reports whether a campaign has to be generated before the
// mission can search.
func (p Params) NeedsCampaign() bool {
	return p.CampaignBrief != "" && p.CampaignID == ""
}

type Mission struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Params         Params    `json:"params"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("mission not found")

type Repository interface {
	Create(ctx context.Context, m *Mission) error
	Get(ctx context.Context, id string) (*Mission, error)
	// Active returns the most recently updated active mission, or
	// ErrNotFound.
	Active(ctx context.Context, organizationID string) (*Mission, error)
	UpdateParams(ctx context.Context, id string, p Params) error
	SetStatus(ctx context.Context, id string, s Status) error
}
