package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

// lockWriteTimeout bounds lock writes made after the task context may have
// expired. A lead left queued is never picked up again.
const lockWriteTimeout = 10 * time.Second

// leadStage describes one per-lead batch stage.
type leadStage struct {
	name     string
	resource quota.Resource
	work     func(ctx context.Context, lead providers.Lead) (providers.Lead, *providers.Research, error)
	// next picks the follow-on task type, or "" to stop.
	next func(p LeadBatchPayload) taskqueue.TaskType
}

// Enrich fills in contact details for each lead in the batch.
func (s *Stages) Enrich(ctx context.Context, task *taskqueue.Task) (any, error) {
	if s.deps.Providers.Enricher == nil {
		return nil, fmt.Errorf("enrich: %w", providers.ErrNotConfigured)
	}
	return s.runLeadStage(ctx, task, leadStage{
		name:     "enrich",
		resource: quota.LeadsEnriched,
		work: func(ctx context.Context, lead providers.Lead) (providers.Lead, *providers.Research, error) {
			out, err := s.deps.Providers.Enricher.Enrich(ctx, lead)
			return out, nil, err
		},
		next: func(LeadBatchPayload) taskqueue.TaskType { return taskqueue.TypeInvestigate },
	})
}

// Investigate researches each lead. Leads then go to first contact when the
// mission auto-contacts through a campaign, otherwise straight to the report.
func (s *Stages) Investigate(ctx context.Context, task *taskqueue.Task) (any, error) {
	if s.deps.Providers.Investigator == nil {
		return nil, fmt.Errorf("investigate: %w", providers.ErrNotConfigured)
	}
	return s.runLeadStage(ctx, task, leadStage{
		name:     "investigate",
		resource: quota.LeadsInvestigated,
		work: func(ctx context.Context, lead providers.Lead) (providers.Lead, *providers.Research, error) {
			r, err := s.deps.Providers.Investigator.Investigate(ctx, lead)
			if err != nil {
				return lead, nil, err
			}
			return lead, &r, nil
		},
		next: func(p LeadBatchPayload) taskqueue.TaskType {
			if p.AutoContact && p.CampaignID != "" {
				return taskqueue.TypeContact
			}
			return taskqueue.TypeGenerateReport
		},
	})
}

// runLeadStage locks the batch under "<stage>:<ref>", consumes quota for the
// leads it won, runs the stage per lead and queues the survivors for the next
// stage. A quota denial releases the won locks as error so the leads are
// picked up again later.
func (s *Stages) runLeadStage(ctx context.Context, task *taskqueue.Task, st leadStage) (any, error) {
	var p LeadBatchPayload
	if err := decodePayload(task, &p); err != nil {
		return nil, err
	}
	res := &BatchResult{Items: []ItemResult{}}
	if len(p.Leads) == 0 {
		return res, nil
	}

	refs := make([]string, len(p.Leads))
	byRef := make(map[string]providers.Lead, len(p.Leads))
	for i, l := range p.Leads {
		refs[i] = lockRef(st.name, l.Ref)
		byRef[refs[i]] = l
	}

	locked, err := s.deps.Locks.FilterAndLock(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, ref := range locked.Skipped {
		res.add(ItemResult{LeadRef: byRef[ref].Ref, Status: ItemSkipped})
	}
	if len(locked.Allowed) == 0 {
		return res, nil
	}

	if err := s.admit(ctx, task.OrganizationID, st.resource, len(locked.Allowed)); err != nil {
		s.release(ctx, locked.Allowed)
		return nil, err
	}

	var done, failed []string
	out := make([]providers.Lead, 0, len(locked.Allowed))
	for i, ref := range locked.Allowed {
		lead := byRef[ref]
		s.progress(ctx, task, i, len(locked.Allowed), fmt.Sprintf("%s %s", st.name, lead.Ref))

		updated, research, err := st.work(ctx, lead)
		if err != nil {
			failed = append(failed, ref)
			res.add(ItemResult{LeadRef: lead.Ref, Status: ItemError, Error: err.Error()})
			s.logger.Warn().Err(err).
				Str("task_id", task.ID).
				Str("lead_ref", lead.Ref).
				Str("stage", st.name).
				Msg("Lead failed")
			continue
		}
		done = append(done, ref)
		out = append(out, updated)
		res.add(ItemResult{LeadRef: lead.Ref, Status: ItemDone, Research: research})
	}
	s.progress(ctx, task, len(locked.Allowed), len(locked.Allowed), st.name+" finished")

	s.settle(ctx, task.ID, done, failed)

	if len(out) > 0 {
		p.Leads = out
		typ := st.next(p)
		var payload any = p
		if typ == taskqueue.TypeGenerateReport {
			payload = ReportPayload{MissionID: task.MissionID}
		}
		next, err := s.enqueue(ctx, task, typ, payload)
		if err != nil {
			return nil, err
		}
		res.NextTaskID = next.ID
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Str("stage", st.name).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("Lead batch finished")
	return res, nil
}

// lockContext detaches ctx from the task deadline for lock writes.
func lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), lockWriteTimeout)
}

// settle records the batch outcome on the locks the stage won.
func (s *Stages) settle(ctx context.Context, taskID string, done, failed []string) {
	lctx, cancel := lockContext(ctx)
	defer cancel()

	if err := s.deps.Locks.MarkDone(lctx, done); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark leads done")
	}
	if err := s.deps.Locks.MarkError(lctx, failed); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark leads errored")
	}
}

// release returns locks to error so the leads stay eligible.
func (s *Stages) release(ctx context.Context, refs []string) {
	lctx, cancel := lockContext(ctx)
	defer cancel()

	if err := s.deps.Locks.MarkError(lctx, refs); err != nil {
		s.logger.Error().Err(err).Int("leads", len(refs)).Msg("Failed to release lead locks")
	}
}
