// Package quota gates resource-consuming work behind per-organization daily
// counters. Limits are soft: the read and the increment are separate steps,
// so concurrent callers near the limit can both be admitted.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/apperr"
)

const dayLayout = "2006-01-02"

// DayKey is the UTC calendar date of t.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// NextReset is the UTC midnight after t.
func NextReset(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

type Ledger struct {
	repo   Repository
	limits Limits
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(repo Repository, limits Limits, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		limits: limits,
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume admits req.Amount units if they fit under req.Limit and, for
// counter resources, increments the counter. For Contact nothing is written:
// the caller records a contact ledger row per send.
func (l *Ledger) CheckAndConsume(ctx context.Context, req Request) Decision {
	return l.check(ctx, req, true)
}

// GetStatus is CheckAndConsume without the write.
func (l *Ledger) GetStatus(ctx context.Context, req Request) Decision {
	return l.check(ctx, req, false)
}

// CheckConfigured is CheckAndConsume with the configured limit for res.
func (l *Ledger) CheckConfigured(ctx context.Context, organizationID string, res Resource, amount int) Decision {
	return l.CheckAndConsume(ctx, Request{
		OrganizationID: organizationID,
		Resource:       res,
		Limit:          l.limits.For(res),
		Amount:         amount,
	})
}

// Remaining reports how many units of res are still available today.
func (l *Ledger) Remaining(ctx context.Context, organizationID string, res Resource) (int, error) {
	d := l.GetStatus(ctx, Request{OrganizationID: organizationID, Resource: res, Limit: l.limits.For(res)})
	if d.Err != nil {
		return 0, d.Err
	}
	return d.Remaining(), nil
}

func (l *Ledger) check(ctx context.Context, req Request, consume bool) Decision {
	now := l.now()
	d := Decision{
		Limit:    req.Limit,
		DayKey:   DayKey(now),
		ResetAt:  NextReset(now),
		Resource: req.Resource,
	}

	if strings.TrimSpace(req.OrganizationID) == "" {
		d.Err = apperr.Config(apperr.CodeOrgMissing, "organization could not be resolved")
		return d
	}
	if !req.Resource.Valid() {
		d.Err = apperr.Validation(fmt.Sprintf("unknown quota resource %q", req.Resource))
		return d
	}
	amount := req.Amount
	if amount <= 0 {
		amount = 1
	}

	var current int
	var err error
	if req.Resource == Contact {
		current, err = l.repo.CountContacts(ctx, req.OrganizationID, NextReset(now).AddDate(0, 0, -1), NextReset(now))
	} else {
		current, err = l.repo.Get(ctx, req.OrganizationID, d.DayKey, req.Resource)
	}
	if err != nil {
		l.logger.Error().Err(err).
			Str("organization_id", req.OrganizationID).
			Str("resource", string(req.Resource)).
			Msg("Quota read failed, denying")
		d.Err = apperr.Store("read quota", err)
		return d
	}
	d.Count = current

	if req.Limit >= 0 && current+amount > req.Limit {
		return d
	}
	d.Allowed = true

	if !consume || req.Resource == Contact {
		return d
	}

	count, err := l.repo.Increment(ctx, req.OrganizationID, d.DayKey, req.Resource, amount)
	if err != nil {
		l.logger.Error().Err(err).
			Str("organization_id", req.OrganizationID).
			Str("resource", string(req.Resource)).
			Msg("Quota increment failed, denying")
		d.Allowed = false
		d.Err = apperr.Store("increment quota", err)
		return d
	}
	d.Count = count
	return d
}

// RecordContact writes one contact ledger row, which is what consumes the
// Contact quota.
func (l *Ledger) RecordContact(ctx context.Context, rec ContactRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	if rec.Channel == "" {
		rec.Channel = "email"
	}
	if err := l.repo.RecordContact(ctx, rec); err != nil {
		return apperr.Store("record contact", err)
	}
	return nil
}

// MissionContacts summarizes every contact sent for a mission.
func (l *Ledger) MissionContacts(ctx context.Context, organizationID, missionID string) (*ContactStats, error) {
	stats, err := l.repo.MissionContacts(ctx, organizationID, missionID)
	if err != nil {
		return nil, apperr.Store("read mission contacts", err)
	}
	return stats, nil
}

// Snapshot collects today's usage for every resource.
func (l *Ledger) Snapshot(ctx context.Context, organizationID string) (*Snapshot, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, apperr.Config(apperr.CodeOrgMissing, "organization could not be resolved")
	}
	now := l.now()
	day := DayKey(now)

	get := func(res Resource) (int, error) {
		n, err := l.repo.Get(ctx, organizationID, day, res)
		if err != nil {
			return 0, apperr.Store("read quota", err)
		}
		return n, nil
	}

	var u Usage
	var err error
	if u.SearchRuns, err = get(SearchRuns); err != nil {
		return nil, err
	}
	if u.LeadsSearched, err = get(LeadsSearched); err != nil {
		return nil, err
	}
	if u.LeadsEnriched, err = get(LeadsEnriched); err != nil {
		return nil, err
	}
	if u.LeadsInvestigated, err = get(LeadsInvestigated); err != nil {
		return nil, err
	}
	reset := NextReset(now)
	if u.ContactsSentToday, err = l.repo.CountContacts(ctx, organizationID, reset.AddDate(0, 0, -1), reset); err != nil {
		return nil, apperr.Store("count contacts", err)
	}

	return &Snapshot{Limits: l.limits, Usage: u, Date: day, ResetAt: reset}, nil
}
