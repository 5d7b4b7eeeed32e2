package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/campaigns"
	"github.com/leadforge/mission-service/internal/followup"
	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

// Contact sends the first campaign step to each lead of the batch, up to the
// contact quota left for today. Leads over the cap are released and reported
// as deferred.
func (s *Stages) Contact(ctx context.Context, task *taskqueue.Task) (any, error) {
	var p LeadBatchPayload
	if err := decodePayload(task, &p); err != nil {
		return nil, err
	}
	if s.deps.Providers.Sender == nil {
		return nil, fmt.Errorf("contact: %w", providers.ErrNotConfigured)
	}
	c, err := s.loadCampaign(ctx, p.CampaignID, task.OrganizationID)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Items: []ItemResult{}}
	var candidates []string
	byRef := make(map[string]providers.Lead, len(p.Leads))
	for _, l := range p.Leads {
		if l.Email == "" {
			res.add(ItemResult{LeadRef: l.Ref, Status: ItemError, Error: "lead has no email address"})
			continue
		}
		ref := lockRef("contact", l.Ref)
		byRef[ref] = l
		candidates = append(candidates, ref)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	remaining, err := s.deps.Quota.Remaining(ctx, task.OrganizationID, quota.Contact)
	if err != nil {
		return nil, err
	}

	locked, err := s.deps.Locks.FilterAndLock(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for _, ref := range locked.Skipped {
		res.add(ItemResult{LeadRef: byRef[ref].Ref, Status: ItemSkipped})
	}

	allowed := locked.Allowed
	if len(allowed) > remaining {
		over := allowed[remaining:]
		allowed = allowed[:remaining]
		s.release(ctx, over)
		for _, ref := range over {
			res.add(ItemResult{LeadRef: byRef[ref].Ref, Status: ItemDeferred, Error: "daily contact quota exhausted"})
		}
	}
	if len(allowed) == 0 {
		return res, nil
	}

	enrolled := make([]campaigns.Lead, 0, len(allowed))
	for _, ref := range allowed {
		l := byRef[ref]
		enrolled = append(enrolled, campaigns.Lead{CampaignID: c.ID, LeadID: leadID(l), LeadRef: l.Ref, Email: l.Email})
	}
	if err := s.deps.Campaigns.UpsertLeads(ctx, c.ID, enrolled); err != nil {
		s.release(ctx, allowed)
		return nil, apperr.Store("enroll campaign leads", err)
	}

	var done, failed []string
	for i, ref := range allowed {
		l := byRef[ref]
		s.progress(ctx, task, i, len(allowed), "contact "+l.Ref)

		if err := s.send(ctx, task, c, l.Ref, leadID(l), l.Email, 0); err != nil {
			failed = append(failed, ref)
			res.add(ItemResult{LeadRef: l.Ref, Status: ItemError, Error: err.Error()})
			continue
		}
		done = append(done, ref)
		res.add(ItemResult{LeadRef: l.Ref, Status: ItemDone})
	}

	s.settle(ctx, task.ID, done, failed)

	if len(done) > 0 {
		next, err := s.enqueue(ctx, task, taskqueue.TypeGenerateReport, ReportPayload{MissionID: task.MissionID})
		if err != nil {
			return nil, err
		}
		res.NextTaskID = next.ID
	}
	return res, nil
}

// ContactCampaignResult is the result of a follow-up send.
type ContactCampaignResult struct {
	CampaignID string `json:"campaignId"`
	LeadID     string `json:"leadId"`
	StepIdx    int    `json:"stepIdx"`
	Sent       bool   `json:"sent"`
	Reason     string `json:"reason,omitempty"`
}

// ContactCampaign sends one follow-up step queued by the follow-up scheduler.
// A step at or below the lead's last sent step is never sent again.
func (s *Stages) ContactCampaign(ctx context.Context, task *taskqueue.Task) (any, error) {
	var p followup.Payload
	if err := decodePayload(task, &p); err != nil {
		return nil, err
	}
	if s.deps.Providers.Sender == nil {
		return nil, fmt.Errorf("contact campaign: %w", providers.ErrNotConfigured)
	}
	c, err := s.loadCampaign(ctx, p.CampaignID, task.OrganizationID)
	if err != nil {
		return nil, err
	}
	if p.StepIdx < 0 || p.StepIdx >= len(c.Steps) {
		return nil, apperr.Validation(fmt.Sprintf("campaign %s has no step %d", c.ID, p.StepIdx))
	}

	res := &ContactCampaignResult{CampaignID: c.ID, LeadID: p.LeadID, StepIdx: p.StepIdx}
	if rec, ok := c.SentRecords[p.LeadID]; ok && rec.LastStepIdx >= p.StepIdx {
		res.Reason = fmt.Sprintf("step %d already sent", rec.LastStepIdx)
		return res, nil
	}

	lead, err := s.deps.Campaigns.GetLead(ctx, c.ID, p.LeadID)
	if errors.Is(err, campaigns.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeCampaignNotFound, fmt.Sprintf("lead %s is not enrolled in campaign %s", p.LeadID, c.ID))
	}
	if err != nil {
		return nil, apperr.Store("get campaign lead", err)
	}
	if lead.OptedOut {
		res.Reason = "lead opted out"
		return res, nil
	}

	ref := followup.IdempotencyKey(c.ID, p.LeadID, p.StepIdx)
	locked, err := s.deps.Locks.FilterAndLock(ctx, []string{ref})
	if err != nil {
		return nil, err
	}
	if len(locked.Allowed) == 0 {
		res.Reason = "already in progress or sent"
		return res, nil
	}

	remaining, err := s.deps.Quota.Remaining(ctx, task.OrganizationID, quota.Contact)
	if err != nil {
		s.release(ctx, locked.Allowed)
		return nil, err
	}
	if remaining == 0 {
		s.release(ctx, locked.Allowed)
		return nil, quotaExceeded(quota.Decision{Resource: quota.Contact}, 1)
	}

	leadRef := lead.LeadRef
	if leadRef == "" {
		leadRef = p.LeadRef
	}
	if err := s.send(ctx, task, c, leadRef, p.LeadID, lead.Email, p.StepIdx); err != nil {
		s.release(ctx, locked.Allowed)
		return nil, err
	}
	s.settle(ctx, task.ID, locked.Allowed, nil)
	res.Sent = true
	return res, nil
}

// send delivers one step, then writes the contact ledger row that consumes
// the contact quota and advances the lead's sent record.
func (s *Stages) send(ctx context.Context, task *taskqueue.Task, c *campaigns.Campaign, leadRef, leadID, email string, stepIdx int) error {
	step := c.Steps[stepIdx]
	sent, err := s.deps.Providers.Sender.Send(ctx, providers.Message{
		CampaignID: c.ID,
		LeadID:     leadID,
		LeadRef:    leadRef,
		Email:      email,
		StepIdx:    stepIdx,
		Subject:    step.Subject,
		Body:       step.Body,
	})
	if err != nil {
		return fmt.Errorf("send step %d to lead %s: %w", stepIdx, leadID, err)
	}

	now := s.now().UTC()
	if err := s.deps.Quota.RecordContact(ctx, quota.ContactRecord{
		OrganizationID: task.OrganizationID,
		MissionID:      task.MissionID,
		CampaignID:     c.ID,
		LeadID:         leadID,
		StepIdx:        stepIdx,
		CreatedAt:      now,
	}); err != nil {
		return err
	}
	if err := s.deps.Campaigns.RecordSent(ctx, c.ID, leadID, stepIdx, now); err != nil {
		return apperr.Store("record sent step", err)
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Str("campaign_id", c.ID).
		Str("lead_id", leadID).
		Int("step", stepIdx).
		Str("message_id", sent.MessageID).
		Msg("Message sent")
	return nil
}

func (s *Stages) loadCampaign(ctx context.Context, id, orgID string) (*campaigns.Campaign, error) {
	if id == "" {
		return nil, apperr.Validation("campaignId is required")
	}
	c, err := s.deps.Campaigns.Get(ctx, id)
	if errors.Is(err, campaigns.ErrNotFound) || (err == nil && c.OrganizationID != orgID) {
		return nil, apperr.NotFound(apperr.CodeCampaignNotFound, fmt.Sprintf("campaign %s not found", id))
	}
	if err != nil {
		return nil, apperr.Store("get campaign", err)
	}
	if len(c.Steps) == 0 {
		return nil, apperr.Validation(fmt.Sprintf("campaign %s has no steps", id))
	}
	return c, nil
}
