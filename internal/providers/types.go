// Package providers holds the external collaborators the pipeline stages
// call: lead search, enrichment, research, message delivery and campaign
// copywriting. Their internals live elsewhere; this package only speaks
// their wire contracts.
package providers

import (
	"context"

	"github.com/leadforge/mission-service/internal/campaigns"
)

// Lead is a prospect as returned by search and enrichment.
type Lead struct {
	ID          string `json:"id"`
	Ref         string `json:"ref"`
	Name        string `json:"name,omitempty"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Email       string `json:"email,omitempty"`
	LinkedInURL string `json:"linkedinUrl,omitempty"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Research is what investigation learned about a lead.
type Research struct {
	Summary string   `json:"summary"`
	Signals []string `json:"signals,omitempty"`
}

type Message struct {
	CampaignID string `json:"campaignId,omitempty"`
	LeadID     string `json:"leadId"`
	LeadRef    string `json:"leadRef"`
	Email      string `json:"email"`
	StepIdx    int    `json:"stepIdx"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

type SendResult struct {
	MessageID string `json:"messageId"`
}

type CampaignRequest struct {
	Brief     string `json:"brief"`
	StepCount int    `json:"stepCount"`
}

// GeneratedCampaign is a campaign name plus its step sequence.
type GeneratedCampaign struct {
	Name  string           `json:"name"`
	Steps []campaigns.Step `json:"steps"`
}

type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Lead, error)
}

type Enricher interface {
	Enrich(ctx context.Context, lead Lead) (Lead, error)
}

type Investigator interface {
	Investigate(ctx context.Context, lead Lead) (Research, error)
}

type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

type ContentGenerator interface {
	GenerateCampaign(ctx context.Context, req CampaignRequest) (*GeneratedCampaign, error)
}

// Set groups the collaborators the stage handlers need.
type Set struct {
	Searcher     Searcher
	Enricher     Enricher
	Investigator Investigator
	Sender       Sender
	Generator    ContentGenerator
}
