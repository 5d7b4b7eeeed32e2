package quota

import (
	"context"
	"time"
)

// Resource is a metered, per-day unit of work.
type Resource string

const (
	LeadsSearched     Resource = "leads_searched"
	SearchRuns        Resource = "search_runs"
	LeadsEnriched     Resource = "leads_enriched"
	LeadsInvestigated Resource = "leads_investigated"
	// Contact has no counter row. Usage is the number of contact_ledger rows
	// written today.
	Contact Resource = "contact"
)

// CounterResources are the resources backed by quota_ledger rows.
var CounterResources = []Resource{SearchRuns, LeadsSearched, LeadsEnriched, LeadsInvestigated}

func (r Resource) Valid() bool {
	switch r {
	case LeadsSearched, SearchRuns, LeadsEnriched, LeadsInvestigated, Contact:
		return true
	}
	return false
}

// Request asks to admit Amount units of Resource against Limit.
type Request struct {
	OrganizationID string
	Resource       Resource
	Limit          int
	Amount         int
}

// Decision is the outcome of an admission check. Err is set when the check
// could not be performed; Allowed is always false in that case.
type Decision struct {
	Allowed  bool      `json:"allowed"`
	Count    int       `json:"count"`
	Limit    int       `json:"limit"`
	DayKey   string    `json:"dayKey"`
	ResetAt  time.Time `json:"resetAt"`
	Resource Resource  `json:"resource"`
	Err      error     `json:"-"`
}

// Remaining is how many more units fit under the limit. Unlimited quotas
// report a large constant.
func (d Decision) Remaining() int {
	if d.Limit < 0 {
		return unlimitedRemaining
	}
	if r := d.Limit - d.Count; r > 0 {
		return r
	}
	return 0
}

const unlimitedRemaining = 1 << 30

// ContactRecord is one row of the contact ledger.
type ContactRecord struct {
	OrganizationID string
	MissionID      string
	CampaignID     string
	LeadID         string
	StepIdx        int
	Channel        string
	CreatedAt      time.Time
}

// Repository hides the ledger tables.
type Repository interface {
	Get(ctx context.Context, organizationID, dayKey string, res Resource) (int, error)
	// Increment adds amount and returns the post-increment count.
	Increment(ctx context.Context, organizationID, dayKey string, res Resource, amount int) (int, error)
	CountContacts(ctx context.Context, organizationID string, from, to time.Time) (int, error)
	RecordContact(ctx context.Context, rec ContactRecord) error
	MissionContacts(ctx context.Context, organizationID, missionID string) (*ContactStats, error)
}

// ContactStats summarizes the contact ledger rows of one mission.
type ContactStats struct {
	Sent   int         `json:"sent"`
	Leads  int         `json:"leads"`
	ByStep map[int]int `json:"byStep"`
	LastAt *time.Time  `json:"lastAt,omitempty"`
}

// Limits are the configured daily caps. Negative means unlimited.
type Limits struct {
	DailySearchLimit      int `json:"daily_search_limit"`
	DailySearchRunsLimit  int `json:"daily_search_runs_limit"`
	DailyEnrichLimit      int `json:"daily_enrich_limit"`
	DailyInvestigateLimit int `json:"daily_investigate_limit"`
	DailyContactLimit     int `json:"daily_contact_limit"`
}

// For returns the cap that applies to res.
func (l Limits) For(res Resource) int {
	switch res {
	case LeadsSearched:
		return l.DailySearchLimit
	case SearchRuns:
		return l.DailySearchRunsLimit
	case LeadsEnriched:
		return l.DailyEnrichLimit
	case LeadsInvestigated:
		return l.DailyInvestigateLimit
	case Contact:
		return l.DailyContactLimit
	}
	return 0
}

// Usage is today's consumption, shaped for the quota status endpoint.
type Usage struct {
	SearchRuns        int `json:"search_runs"`
	LeadsSearched     int `json:"leads_searched"`
	LeadsEnriched     int `json:"leads_enriched"`
	LeadsInvestigated int `json:"leads_investigated"`
	ContactsSentToday int `json:"contacts_sent_today"`
}

// Snapshot is the payload of GET /quotas.
type Snapshot struct {
	Limits          Limits    `json:"limits"`
	Usage           Usage     `json:"usage"`
	Date            string    `json:"date"`
	ResetAt         time.Time `json:"resetAt"`
	ActiveMissionID *string   `json:"activeMissionId"`
}
