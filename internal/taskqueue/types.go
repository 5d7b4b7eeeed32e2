package taskqueue

import (
	"encoding/json"
	"errors"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed except by an
// operator cancel of a failed task.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type TaskType string

const (
	TypeSearch           TaskType = "SEARCH"
	TypeEnrich           TaskType = "ENRICH"
	TypeInvestigate      TaskType = "INVESTIGATE"
	TypeContact          TaskType = "CONTACT"
	TypeContactCampaign  TaskType = "CONTACT_CAMPAIGN"
	TypeGenerateCampaign TaskType = "GENERATE_CAMPAIGN"
	TypeGenerateReport   TaskType = "GENERATE_REPORT"
)

// AllTypes lists every task type the processor knows about.
var AllTypes = []TaskType{
	TypeSearch, TypeEnrich, TypeInvestigate, TypeContact,
	TypeContactCampaign, TypeGenerateCampaign, TypeGenerateReport,
}

func (t TaskType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	// CancelMessage is written to errorMessage when an operator cancels a task.
	CancelMessage = "cancelled by operator"
	// RescueMessage is written to errorMessage when the sweep reclaims a task.
	RescueMessage = "rescued — stuck processing"
)

type Task struct {
	ID                  string          `json:"id"`
	MissionID           string          `json:"missionId"`
	OrganizationID      string          `json:"organizationId"`
	Type                TaskType        `json:"type"`
	Status              TaskStatus      `json:"status"`
	Payload             json.RawMessage `json:"payload,omitempty" swaggertype:"object"`
	Result              json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	ErrorMessage        *string         `json:"errorMessage,omitempty"`
	RetryCount          int             `json:"retryCount"`
	IdempotencyKey      *string         `json:"idempotencyKey,omitempty"`
	ScheduledFor        *time.Time      `json:"scheduledFor,omitempty"`
	ProcessingStartedAt *time.Time      `json:"processingStartedAt,omitempty"`
	HeartbeatAt         *time.Time      `json:"heartbeatAt,omitempty"`
	ProgressCurrent     *int            `json:"progressCurrent,omitempty"`
	ProgressTotal       *int            `json:"progressTotal,omitempty"`
	ProgressLabel       *string         `json:"progressLabel,omitempty"`
	WorkerID            *string         `json:"workerId,omitempty"`
	WorkerSource        *string         `json:"workerSource,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Clone returns a deep-enough copy for in-memory storage.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &c
}

// Progress is an optional progress update sent with a heartbeat.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
}

type CreateInput struct {
	MissionID      string
	OrganizationID string
	Type           TaskType
	Payload        any
	IdempotencyKey string
	ScheduledFor   *time.Time
}

type ClaimInput struct {
	WorkerID     string
	WorkerSource string
	Limit        int
	Types        []TaskType
}

type ListFilter struct {
	OrganizationID string
	Status         TaskStatus
	Type           TaskType
	MissionID      string
	Limit          int
	IncludePayload bool
}

type ListResult struct {
	Items  []*Task            `json:"items"`
	Counts map[TaskStatus]int `json:"counts"`
}

type RescueInput struct {
	OlderThanMinutes int
	Limit            int
}

type RescueResult struct {
	RescuedCount int       `json:"rescuedCount"`
	Cutoff       time.Time `json:"cutoff"`
	Tasks        []*Task   `json:"tasks"`
}

// Repository errors. The Queue translates them into apperr kinds.
var (
	ErrNotFound      = errors.New("task not found")
	ErrDuplicateKey  = errors.New("idempotency key already used")
	ErrTerminal      = errors.New("task already terminal")
	ErrTaskCompleted = errors.New("task already completed")
)
