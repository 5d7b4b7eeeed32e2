package followup

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leadforge/mission-service/internal/campaigns"
)

// CampaignFile is a campaign definition with lead state, as written by hand
// for dry runs.
type CampaignFile struct {
	ID             string           `yaml:"id"`
	OrganizationID string           `yaml:"organization_id"`
	MissionID      string           `yaml:"mission_id"`
	Name           string           `yaml:"name"`
	Steps          []campaigns.Step `yaml:"steps"`
	ExcludedLeads  []string         `yaml:"excluded_leads"`
	Leads          []FileLead       `yaml:"leads"`
}

type FileLead struct {
	LeadID          string     `yaml:"lead_id"`
	LeadRef         string     `yaml:"lead_ref"`
	Email           string     `yaml:"email"`
	LastStepIdx     *int       `yaml:"last_step_idx"`
	LastSentAt      *time.Time `yaml:"last_sent_at"`
	LastContactedAt *time.Time `yaml:"last_contacted_at"`
	LastFollowupAt  *time.Time `yaml:"last_followup_at"`
	OptedOut        bool       `yaml:"opted_out"`
	Reply           *FileReply `yaml:"reply"`
}

type FileReply struct {
	RepliedAt        time.Time `yaml:"replied_at"`
	ContinueSequence bool      `yaml:"continue_sequence"`
	Intent           string    `yaml:"intent"`
}

// ParseCampaignYAML decodes a campaign file into the campaign and its leads.
func ParseCampaignYAML(data []byte) (*campaigns.Campaign, []campaigns.Lead, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, fmt.Errorf("campaign file is empty")
	}
	var f CampaignFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("decode campaign file: %w", err)
	}
	if f.ID == "" {
		return nil, nil, fmt.Errorf("campaign file: id is required")
	}
	if len(f.Steps) == 0 {
		return nil, nil, fmt.Errorf("campaign file: at least one step is required")
	}
	for i, s := range f.Steps {
		if s.OffsetDays < 0 {
			return nil, nil, fmt.Errorf("campaign file: step %d has negative offset_days", i)
		}
	}

	c := &campaigns.Campaign{
		ID:             f.ID,
		OrganizationID: f.OrganizationID,
		MissionID:      f.MissionID,
		Name:           f.Name,
		Status:         campaigns.StatusActive,
		Steps:          f.Steps,
		ExcludedLeads:  f.ExcludedLeads,
		SentRecords:    make(map[string]campaigns.SentRecord),
	}
	leads := make([]campaigns.Lead, 0, len(f.Leads))
	for _, fl := range f.Leads {
		if fl.LeadID == "" {
			return nil, nil, fmt.Errorf("campaign file: lead without lead_id")
		}
		if fl.LastStepIdx != nil {
			if fl.LastSentAt == nil {
				return nil, nil, fmt.Errorf("campaign file: lead %s has last_step_idx without last_sent_at", fl.LeadID)
			}
			c.SentRecords[fl.LeadID] = campaigns.SentRecord{LastStepIdx: *fl.LastStepIdx, LastSentAt: *fl.LastSentAt}
		}
		l := campaigns.Lead{
			CampaignID:      f.ID,
			LeadID:          fl.LeadID,
			LeadRef:         fl.LeadRef,
			Email:           fl.Email,
			LastContactedAt: fl.LastContactedAt,
			LastFollowupAt:  fl.LastFollowupAt,
			OptedOut:        fl.OptedOut,
		}
		if l.LeadRef == "" {
			l.LeadRef = fl.LeadID
		}
		if fl.Reply != nil {
			l.Reply = &campaigns.Reply{
				RepliedAt:        fl.Reply.RepliedAt,
				ContinueSequence: fl.Reply.ContinueSequence,
				Intent:           fl.Reply.Intent,
			}
		}
		leads = append(leads, l)
	}
	return c, leads, nil
}

// LoadCampaignFile reads and parses a campaign file from disk.
func LoadCampaignFile(path string) (*campaigns.Campaign, []campaigns.Lead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, leads, err := ParseCampaignYAML(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, leads, nil
}
