// Package followup decides which campaign leads are due for their next step
// and turns them into CONTACT_CAMPAIGN tasks.
package followup

import (
	"time"

	"github.com/leadforge/mission-service/internal/campaigns"
)

// Reply intents that do not count as a real answer.
const (
	IntentOutOfOffice = "out_of_office"
	IntentAutoReply   = "auto_reply"
)

const day = 24 * time.Hour

// EligibleRow is one lead that should receive NextStepIdx now.
type EligibleRow struct {
	CampaignID     string         `json:"campaignId"`
	OrganizationID string         `json:"organizationId"`
	MissionID      string         `json:"missionId,omitempty"`
	LeadID         string         `json:"leadId"`
	LeadRef        string         `json:"leadRef"`
	Email          string         `json:"email,omitempty"`
	NextStepIdx    int            `json:"nextStepIdx"`
	ElapsedDays    int            `json:"elapsedDays"`
	Step           campaigns.Step `json:"step"`
}

// ComputeEligible returns the contacted leads whose next step is due at now,
// in input order. It has no side effects.
func ComputeEligible(c *campaigns.Campaign, leads []campaigns.Lead, now time.Time) []EligibleRow {
	if c == nil || len(c.Steps) == 0 {
		return nil
	}

	var rows []EligibleRow
	for _, l := range leads {
		if l.OptedOut || c.Excluded(l.LeadID) || halted(l.Reply) {
			continue
		}

		next := 0
		var lastSent *time.Time
		if rec, ok := c.SentRecords[l.LeadID]; ok {
			next = rec.LastStepIdx + 1
			sentAt := rec.LastSentAt
			lastSent = &sentAt
		}
		if next >= len(c.Steps) {
			continue
		}

		elapsed := ElapsedDays(now, lastSent, l.LastFollowupAt, l.LastContactedAt)
		step := c.Steps[next]
		if elapsed < step.OffsetDays {
			continue
		}

		rows = append(rows, EligibleRow{
			CampaignID:     c.ID,
			OrganizationID: c.OrganizationID,
			MissionID:      c.MissionID,
			LeadID:         l.LeadID,
			LeadRef:        l.LeadRef,
			Email:          l.Email,
			NextStepIdx:    next,
			ElapsedDays:    elapsed,
			Step:           step,
		})
	}
	return rows
}

// halted reports whether a reply stops the sequence. No reply, an explicit
// continue flag or an automatic reply let it go on; any other reply stops it.
func halted(r *campaigns.Reply) bool {
	if r == nil || r.RepliedAt.IsZero() {
		return false
	}
	if r.ContinueSequence {
		return false
	}
	switch r.Intent {
	case IntentOutOfOffice, IntentAutoReply:
		return false
	}
	return true
}

// ElapsedDays is the number of whole days between the latest of the given
// touches and now. With no touch at all it is 0.
func ElapsedDays(now time.Time, touches ...*time.Time) int {
	var latest time.Time
	for _, t := range touches {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if latest.IsZero() || !now.After(latest) {
		return 0
	}
	return int(now.Sub(latest) / day)
}
