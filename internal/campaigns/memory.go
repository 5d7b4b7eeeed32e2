package campaigns

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryLead struct {
	Lead
	sent *SentRecord
}

// MemoryRepository is an in-process Repository for tests and CLI previews.
type MemoryRepository struct {
	mu        sync.Mutex
	campaigns map[string]*Campaign
	leads     map[string]map[string]*memoryLead
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		campaigns: make(map[string]*Campaign),
		leads:     make(map[string]map[string]*memoryLead),
	}
}

func (r *MemoryRepository) Create(_ context.Context, c *Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.Steps = append([]Step(nil), c.Steps...)
	cp.ExcludedLeads = append([]string(nil), c.ExcludedLeads...)
	cp.SentRecords = nil
	r.campaigns[c.ID] = &cp
	if r.leads[c.ID] == nil {
		r.leads[c.ID] = make(map[string]*memoryLead)
	}
	// Seed send state when the definition carries it.
	for leadID, rec := range c.SentRecords {
		rec := rec
		ml, ok := r.leads[c.ID][leadID]
		if !ok {
			ml = &memoryLead{Lead: Lead{CampaignID: c.ID, LeadID: leadID, LeadRef: leadID}}
			r.leads[c.ID][leadID] = ml
		}
		ml.sent = &rec
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *MemoryRepository) getLocked(id string) (*Campaign, error) {
	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Steps = append([]Step(nil), c.Steps...)
	cp.ExcludedLeads = append([]string(nil), c.ExcludedLeads...)
	cp.SentRecords = make(map[string]SentRecord)
	for id, ml := range r.leads[c.ID] {
		if ml.sent != nil {
			cp.SentRecords[id] = *ml.sent
		}
	}
	return &cp, nil
}

func (r *MemoryRepository) ListActive(_ context.Context, organizationID string) ([]*Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Campaign
	for id, c := range r.campaigns {
		if c.OrganizationID != organizationID || c.Status != StatusActive {
			continue
		}
		cp, _ := r.getLocked(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpsertLeads also stores LastContactedAt, LastFollowupAt and Reply when
// given, which lets tests seed arbitrary state.
func (r *MemoryRepository) UpsertLeads(_ context.Context, campaignID string, leads []Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaignID]; !ok {
		return ErrNotFound
	}
	for _, l := range leads {
		l.CampaignID = campaignID
		ml, ok := r.leads[campaignID][l.LeadID]
		if !ok {
			r.leads[campaignID][l.LeadID] = &memoryLead{Lead: l}
			continue
		}
		ml.LeadRef = l.LeadRef
		if l.Email != "" {
			ml.Email = l.Email
		}
		ml.OptedOut = ml.OptedOut || l.OptedOut
		if l.LastContactedAt != nil {
			ml.LastContactedAt = l.LastContactedAt
		}
		if l.LastFollowupAt != nil {
			ml.LastFollowupAt = l.LastFollowupAt
		}
		if l.Reply != nil {
			ml.Reply = l.Reply
		}
	}
	return nil
}

func (r *MemoryRepository) ContactedLeads(_ context.Context, campaignID string) ([]Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Lead
	for _, ml := range r.leads[campaignID] {
		if ml.sent != nil || ml.LastContactedAt != nil {
			out = append(out, ml.Lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeadID < out[j].LeadID })
	return out, nil
}

func (r *MemoryRepository) GetLead(_ context.Context, campaignID, leadID string) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ml, ok := r.leads[campaignID][leadID]
	if !ok {
		return nil, ErrNotFound
	}
	l := ml.Lead
	return &l, nil
}

func (r *MemoryRepository) RecordSent(_ context.Context, campaignID, leadID string, stepIdx int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ml, ok := r.leads[campaignID][leadID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	ml.sent = &SentRecord{LastStepIdx: stepIdx, LastSentAt: at}
	if stepIdx == 0 {
		ml.LastContactedAt = &at
	} else {
		ml.LastFollowupAt = &at
	}
	return nil
}

func (r *MemoryRepository) RecordReply(_ context.Context, campaignID, leadID string, reply Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ml, ok := r.leads[campaignID][leadID]
	if !ok {
		return ErrNotFound
	}
	ml.Reply = &reply
	return nil
}
