package providers

import (
	"context"
	"errors"
	"fmt"

	httpclient "github.com/leadforge/mission-service/internal/http"
)

// ErrNotConfigured is returned by a webhook stage whose URL is empty.
var ErrNotConfigured = errors.New("provider endpoint is not configured")

type WebhookConfig struct {
	SearchURL      string
	EnrichURL      string
	InvestigateURL string
	SendURL        string
}

// Webhook implements every collaborator as a JSON POST to a configured URL.
type Webhook struct {
	client *httpclient.Client
	cfg    WebhookConfig
}

func NewWebhook(client *httpclient.Client, cfg WebhookConfig) *Webhook {
	return &Webhook{client: client, cfg: cfg}
}

func (w *Webhook) post(ctx context.Context, url, op string, in, out any) error {
	if url == "" {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}
	if err := w.client.PostJSON(ctx, url, in, out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (w *Webhook) Search(ctx context.Context, req SearchRequest) ([]Lead, error) {
	var resp struct {
		Leads []Lead `json:"leads"`
	}
	if err := w.post(ctx, w.cfg.SearchURL, "search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Leads, nil
}

func (w *Webhook) Enrich(ctx context.Context, lead Lead) (Lead, error) {
	var resp struct {
		Lead Lead `json:"lead"`
	}
	if err := w.post(ctx, w.cfg.EnrichURL, "enrich", lead, &resp); err != nil {
		return Lead{}, err
	}
	if resp.Lead.Ref == "" {
		resp.Lead.Ref = lead.Ref
	}
	if resp.Lead.ID == "" {
		resp.Lead.ID = lead.ID
	}
	return resp.Lead, nil
}

func (w *Webhook) Investigate(ctx context.Context, lead Lead) (Research, error) {
	var resp Research
	if err := w.post(ctx, w.cfg.InvestigateURL, "investigate", lead, &resp); err != nil {
		return Research{}, err
	}
	return resp, nil
}

func (w *Webhook) Send(ctx context.Context, msg Message) (SendResult, error) {
	if msg.Email == "" {
		return SendResult{}, fmt.Errorf("send: lead %s has no email address", msg.LeadID)
	}
	var resp SendResult
	if err := w.post(ctx, w.cfg.SendURL, "send", msg, &resp); err != nil {
		return SendResult{}, err
	}
	return resp, nil
}
