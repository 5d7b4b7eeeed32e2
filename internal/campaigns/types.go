// Package campaigns stores outreach campaigns, their step sequences and the
// per-lead send state the follow-up scheduler works from.
package campaigns

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

// Step is one message in a campaign sequence. OffsetDays is the wait since
// the previous touch before the step may be sent.
type Step struct {
	OffsetDays int    `json:"offsetDays" yaml:"offset_days"`
	Subject    string `json:"subject" yaml:"subject"`
	Body       string `json:"body" yaml:"body"`
}

// SentRecord is the last step delivered to a lead.
type SentRecord struct {
	LastStepIdx int       `json:"lastStepIdx"`
	LastSentAt  time.Time `json:"lastSentAt"`
}

type Campaign struct {
	ID             string                `json:"id"`
	OrganizationID string                `json:"organizationId"`
	MissionID      string                `json:"missionId,omitempty"`
	Name           string                `json:"name"`
	Status         Status                `json:"status"`
	Steps          []Step                `json:"steps"`
	ExcludedLeads  []string              `json:"excludedLeads,omitempty"`
	SentRecords    map[string]SentRecord `json:"sentRecords,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// Excluded reports whether leadID is in the campaign's exclusion set.
func (c *Campaign) Excluded(leadID string) bool {
	for _, id := range c.ExcludedLeads {
		if id == leadID {
			return true
		}
	}
	return false
}

// Reply is what is known about a lead's answer to the campaign.
type Reply struct {
	RepliedAt        time.Time `json:"repliedAt"`
	ContinueSequence bool      `json:"continueSequence"`
	Intent           string    `json:"intent,omitempty"`
}

// Lead is a lead enrolled in a campaign.
type Lead struct {
	CampaignID      string     `json:"campaignId"`
	LeadID          string     `json:"leadId"`
	LeadRef         string     `json:"leadRef"`
	Email           string     `json:"email,omitempty"`
	LastContactedAt *time.Time `json:"lastContactedAt,omitempty"`
	LastFollowupAt  *time.Time `json:"lastFollowupAt,omitempty"`
	Reply           *Reply     `json:"reply,omitempty"`
	OptedOut        bool       `json:"optedOut"`
}

var ErrNotFound = errors.New("campaign not found")

type Repository interface {
	Create(ctx context.Context, c *Campaign) error
	// Get loads the campaign with its SentRecords.
	Get(ctx context.Context, id string) (*Campaign, error)
	ListActive(ctx context.Context, organizationID string) ([]*Campaign, error)
	// UpsertLeads enrolls leads, keeping existing send and reply state.
	UpsertLeads(ctx context.Context, campaignID string, leads []Lead) error
	// ContactedLeads returns enrolled leads that have received at least one
	// step.
	ContactedLeads(ctx context.Context, campaignID string) ([]Lead, error)
	GetLead(ctx context.Context, campaignID, leadID string) (*Lead, error)
	// RecordSent stores stepIdx as the lead's last delivered step. Step 0
	// sets lastContactedAt; later steps set lastFollowupAt.
	RecordSent(ctx context.Context, campaignID, leadID string, stepIdx int, at time.Time) error
	RecordReply(ctx context.Context, campaignID, leadID string, reply Reply) error
}
