package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/auditlog"
	"github.com/leadforge/mission-service/internal/campaigns"
	"github.com/leadforge/mission-service/internal/followup"
	"github.com/leadforge/mission-service/internal/leadlock"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/storage"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

const org = "org_1"

type fakeProviders struct {
	mu         sync.Mutex
	leads      []providers.Lead
	failEnrich map[string]bool
	failSend   map[string]bool
	sent       []providers.Message
}

func (p *fakeProviders) Search(_ context.Context, req providers.SearchRequest) ([]providers.Lead, error) {
	if len(p.leads) > req.Limit {
		return p.leads[:req.Limit], nil
	}
	return p.leads, nil
}

func (p *fakeProviders) Enrich(_ context.Context, l providers.Lead) (providers.Lead, error) {
	if p.failEnrich[l.Ref] {
		return providers.Lead{}, errors.New("enrichment provider timed out")
	}
	l.Email = l.Ref + "@example.com"
	return l, nil
}

func (p *fakeProviders) Investigate(_ context.Context, l providers.Lead) (providers.Research, error) {
	return providers.Research{Summary: "works at " + l.Company}, nil
}

func (p *fakeProviders) Send(_ context.Context, msg providers.Message) (providers.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend[msg.LeadRef] {
		return providers.SendResult{}, errors.New("mailbox unavailable")
	}
	p.sent = append(p.sent, msg)
	return providers.SendResult{MessageID: "m-" + msg.LeadID}, nil
}

func (p *fakeProviders) Sent() []providers.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providers.Message(nil), p.sent...)
}

type fixture struct {
	queue     *taskqueue.Queue
	quotas    *quota.MemoryRepository
	locks     *leadlock.Manager
	missions  *missions.MemoryRepository
	campaigns *campaigns.MemoryRepository
	prov      *fakeProviders
	store     *storage.LocalStorage
	stages    *Stages
	now       time.Time
}

func newFixture(t *testing.T, limits quota.Limits) *fixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		quotas:    quota.NewMemoryRepository(),
		locks:     leadlock.NewManager(leadlock.NewMemoryRepository(), zerolog.Nop()),
		missions:  missions.NewMemoryRepository(),
		campaigns: campaigns.NewMemoryRepository(),
		prov:      &fakeProviders{failEnrich: map[string]bool{}, failSend: map[string]bool{}},
		store:     store,
		now:       time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.queue = taskqueue.New(taskqueue.NewMemoryRepository(), auditlog.NewMemoryAppender(zerolog.Nop()), zerolog.Nop())
	ledger := quota.NewLedger(f.quotas, limits, zerolog.Nop(), quota.WithClock(clock))
	f.stages = New(Deps{
		Tasks:     f.queue,
		Quota:     ledger,
		Locks:     f.locks,
		Missions:  f.missions,
		Campaigns: f.campaigns,
		Providers: providers.Set{
			Searcher:     f.prov,
			Enricher:     f.prov,
			Investigator: f.prov,
			Sender:       f.prov,
			Generator:    providers.StaticGenerator{},
		},
		Storage: store,
	}, zerolog.Nop(), WithClock(clock))
	return f
}

func generous() quota.Limits {
	return quota.Limits{
		DailySearchLimit:      100,
		DailySearchRunsLimit:  10,
		DailyEnrichLimit:      100,
		DailyInvestigateLimit: 100,
		DailyContactLimit:     100,
	}
}

// submit creates a task and claims it, as the processor would.
func (f *fixture) submit(t *testing.T, typ taskqueue.TaskType, payload any) *taskqueue.Task {
	t.Helper()
	_, _, err := f.queue.Create(context.Background(), taskqueue.CreateInput{
		MissionID:      "msn_1",
		OrganizationID: org,
		Type:           typ,
		Payload:        payload,
	})
	require.NoError(t, err)
	return f.claim(t, typ)
}

func (f *fixture) claim(t *testing.T, typ taskqueue.TaskType) *taskqueue.Task {
	t.Helper()
	claimed, err := f.queue.ClaimNextPending(context.Background(), taskqueue.ClaimInput{
		WorkerID: "test", Limit: 1, Types: []taskqueue.TaskType{typ},
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1, "expected a pending %s task", typ)
	return claimed[0]
}

func (f *fixture) addCampaign(t *testing.T, id string, steps int) {
	t.Helper()
	c := &campaigns.Campaign{ID: id, OrganizationID: org, MissionID: "msn_1", Name: id, Status: campaigns.StatusActive}
	for i := 0; i < steps; i++ {
		c.Steps = append(c.Steps, campaigns.Step{OffsetDays: 3 * i, Subject: "s", Body: "b"})
	}
	require.NoError(t, f.campaigns.Create(context.Background(), c))
}

func leads(refs ...string) []providers.Lead {
	out := make([]providers.Lead, len(refs))
	for i, r := range refs {
		out[i] = providers.Lead{ID: "id-" + r, Ref: r, Company: "Acme"}
	}
	return out
}

func TestHandlersCoverEveryType(t *testing.T) {
	f := newFixture(t, generous())
	h := f.stages.Handlers()
	for _, typ := range taskqueue.AllTypes {
		assert.NotNil(t, h[typ], typ)
	}
}

func TestSearchQueuesEnrichWithinQuota(t *testing.T) {
	limits := generous()
	limits.DailySearchLimit = 3
	f := newFixture(t, limits)
	f.prov.leads = leads("a", "b", "c", "d", "e")

	task := f.submit(t, taskqueue.TypeSearch, missions.SearchPayload{MissionID: "msn_1", Query: "cto", SearchLimit: 10})
	out, err := f.stages.Search(context.Background(), task)
	require.NoError(t, err)

	res := out.(*SearchResult)
	assert.Equal(t, 3, res.Found, "capped by the remaining leads_searched quota")
	assert.NotEmpty(t, res.NextTaskID)

	enrich := f.claim(t, taskqueue.TypeEnrich)
	assert.Equal(t, res.NextTaskID, enrich.ID)
	assert.Equal(t, "enrich:"+task.ID, *enrich.IdempotencyKey)

	_, err = f.stages.Search(context.Background(), f.submit(t, taskqueue.TypeSearch, missions.SearchPayload{MissionID: "msn_1", Query: "cto"}))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeQuotaExceeded, mustAppErr(t, err).Code)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, generous())
	_, err := f.stages.Search(context.Background(), f.submit(t, taskqueue.TypeSearch, missions.SearchPayload{MissionID: "msn_1"}))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestEnrichRecordsPerLeadFailures(t *testing.T) {
	f := newFixture(t, generous())
	f.prov.failEnrich["b"] = true

	task := f.submit(t, taskqueue.TypeEnrich, LeadBatchPayload{MissionID: "msn_1", Leads: leads("a", "b", "c")})
	out, err := f.stages.Enrich(context.Background(), task)
	require.NoError(t, err, "one failing lead does not fail the batch")

	res := out.(*BatchResult)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "enrichment provider timed out", res.Items[1].Error)

	ctx := context.Background()
	done, err := f.locks.Status(ctx, "enrich:a")
	require.NoError(t, err)
	assert.Equal(t, leadlock.StatusDone, done.Status)
	errored, err := f.locks.Status(ctx, "enrich:b")
	require.NoError(t, err)
	assert.Equal(t, leadlock.StatusError, errored.Status)

	next := f.claim(t, taskqueue.TypeInvestigate)
	assert.Contains(t, string(next.Payload), "a@example.com")
	assert.NotContains(t, string(next.Payload), `"ref":"b"`)

	latest, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, latest.ProgressTotal)
	assert.Equal(t, 3, *latest.ProgressTotal)
}

func TestEnrichSkipsLockedLeadsAndRetriesErrored(t *testing.T) {
	f := newFixture(t, generous())
	f.prov.failEnrich["b"] = true
	ctx := context.Background()

	_, err := f.stages.Enrich(ctx, f.submit(t, taskqueue.TypeEnrich, LeadBatchPayload{MissionID: "msn_1", Leads: leads("a", "b")}))
	require.NoError(t, err)

	f.prov.failEnrich["b"] = false
	out, err := f.stages.Enrich(ctx, f.submit(t, taskqueue.TypeEnrich, LeadBatchPayload{MissionID: "msn_1", Leads: leads("a", "b")}))
	require.NoError(t, err)
	res := out.(*BatchResult)
	assert.Equal(t, 1, res.Skipped, "a is done and stays suppressed")
	assert.Equal(t, 1, res.Processed, "b errored before and is admitted again")
}

func TestEnrichQuotaDenialReleasesLocks(t *testing.T) {
	limits := generous()
	limits.DailyEnrichLimit = 1
	f := newFixture(t, limits)
	ctx := context.Background()

	_, err := f.stages.Enrich(ctx, f.submit(t, taskqueue.TypeEnrich, LeadBatchPayload{MissionID: "msn_1", Leads: leads("a", "b")}))
	require.Error(t, err)
	assert.Equal(t, 429, apperr.StatusOf(err))

	for _, ref := range []string{"enrich:a", "enrich:b"} {
		l, err := f.locks.Status(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, leadlock.StatusError, l.Status, ref)
	}
}

// deadlineLocks behaves like a network store: writes fail once the caller's
// context is done.
type deadlineLocks struct {
	*leadlock.MemoryRepository
}

func (r deadlineLocks) SetStatus(ctx context.Context, locks []leadlock.Lock, status leadlock.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRepository.SetStatus(ctx, locks, status)
}

type blockingEnricher struct{}

func (blockingEnricher) Enrich(ctx context.Context, l providers.Lead) (providers.Lead, error) {
	<-ctx.Done()
	return providers.Lead{}, ctx.Err()
}

func TestEnrichTimeoutReleasesLocksAsError(t *testing.T) {
	f := newFixture(t, generous())
	f.locks = leadlock.NewManager(deadlineLocks{leadlock.NewMemoryRepository()}, zerolog.Nop())
	f.stages.deps.Locks = f.locks
	f.stages.deps.Providers.Enricher = blockingEnricher{}

	task := f.submit(t, taskqueue.TypeEnrich, LeadBatchPayload{MissionID: "msn_1", Leads: leads("a")})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := f.stages.Enrich(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 1, out.(*BatchResult).Failed)

	l, err := f.locks.Status(context.Background(), "enrich:a")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, leadlock.StatusError, l.Status)

	retry, err := f.locks.FilterAndLock(context.Background(), []string{"enrich:a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"enrich:a"}, retry.Allowed)
}

func TestInvestigateRoutesByAutoContact(t *testing.T) {
	f := newFixture(t, generous())
	ctx := context.Background()

	out, err := f.stages.Investigate(ctx, f.submit(t, taskqueue.TypeInvestigate, LeadBatchPayload{MissionID: "msn_1", Leads: leads("a")}))
	require.NoError(t, err)
	res := out.(*BatchResult)
	require.NotNil(t, res.Items[0].Research)
	assert.Equal(t, "works at Acme", res.Items[0].Research.Summary)
	f.claim(t, taskqueue.TypeGenerateReport)

	_, err = f.stages.Investigate(ctx, f.submit(t, taskqueue.TypeInvestigate, LeadBatchPayload{
		MissionID: "msn_1", CampaignID: "cmp_1", AutoContact: true, Leads: leads("b"),
	}))
	require.NoError(t, err)
	f.claim(t, taskqueue.TypeContact)
}

func TestContactSendsFirstStepUpToQuota(t *testing.T) {
	limits := generous()
	limits.DailyContactLimit = 2
	f := newFixture(t, limits)
	f.addCampaign(t, "cmp_1", 2)
	ctx := context.Background()

	batch := leads("a", "b", "c", "d")
	for i := range batch {
		batch[i].Email = batch[i].Ref + "@example.com"
	}
	batch[3].Email = ""

	out, err := f.stages.Contact(ctx, f.submit(t, taskqueue.TypeContact, LeadBatchPayload{MissionID: "msn_1", CampaignID: "cmp_1", Leads: batch}))
	require.NoError(t, err)
	res := out.(*BatchResult)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Failed, "lead without email")

	sent := f.prov.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, 0, sent[0].StepIdx)
	assert.Len(t, f.quotas.Contacts(), 2)

	c, err := f.campaigns.Get(ctx, "cmp_1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.SentRecords["id-a"].LastStepIdx)

	deferred, err := f.locks.Status(ctx, "contact:c")
	require.NoError(t, err)
	assert.Equal(t, leadlock.StatusError, deferred.Status, "deferred leads can be contacted tomorrow")

	f.claim(t, taskqueue.TypeGenerateReport)
}

func TestContactUnknownCampaign(t *testing.T) {
	f := newFixture(t, generous())
	_, err := f.stages.Contact(context.Background(), f.submit(t, taskqueue.TypeContact, LeadBatchPayload{MissionID: "msn_1", CampaignID: "nope", Leads: leads("a")}))
	assert.Equal(t, 404, apperr.StatusOf(err))
}

func enrollContacted(t *testing.T, f *fixture, campaignID, leadID string, lastStep int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.campaigns.UpsertLeads(ctx, campaignID, []campaigns.Lead{{
		CampaignID: campaignID, LeadID: leadID, LeadRef: "ref-" + leadID, Email: leadID + "@example.com",
	}}))
	require.NoError(t, f.campaigns.RecordSent(ctx, campaignID, leadID, lastStep, f.now.Add(-96*time.Hour)))
}

func TestContactCampaignSendsNextStep(t *testing.T) {
	f := newFixture(t, generous())
	f.addCampaign(t, "cmp_1", 3)
	enrollContacted(t, f, "cmp_1", "l1", 0)
	ctx := context.Background()

	payload := followup.Payload{CampaignID: "cmp_1", LeadID: "l1", LeadRef: "ref-l1", StepIdx: 1}
	out, err := f.stages.ContactCampaign(ctx, f.submit(t, taskqueue.TypeContactCampaign, payload))
	require.NoError(t, err)
	assert.True(t, out.(*ContactCampaignResult).Sent)

	c, err := f.campaigns.Get(ctx, "cmp_1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.SentRecords["l1"].LastStepIdx)
	lead, err := f.campaigns.GetLead(ctx, "cmp_1", "l1")
	require.NoError(t, err)
	require.NotNil(t, lead.LastFollowupAt)

	out, err = f.stages.ContactCampaign(ctx, f.submit(t, taskqueue.TypeContactCampaign, payload))
	require.NoError(t, err)
	assert.False(t, out.(*ContactCampaignResult).Sent, "a step is never sent twice")
	assert.Len(t, f.prov.Sent(), 1)
}

func TestContactCampaignSendFailureIsRetryable(t *testing.T) {
	f := newFixture(t, generous())
	f.addCampaign(t, "cmp_1", 2)
	enrollContacted(t, f, "cmp_1", "l1", 0)
	f.prov.failSend["ref-l1"] = true
	ctx := context.Background()

	payload := followup.Payload{CampaignID: "cmp_1", LeadID: "l1", StepIdx: 1}
	_, err := f.stages.ContactCampaign(ctx, f.submit(t, taskqueue.TypeContactCampaign, payload))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox unavailable")

	l, err := f.locks.Status(ctx, followup.IdempotencyKey("cmp_1", "l1", 1))
	require.NoError(t, err)
	assert.Equal(t, leadlock.StatusError, l.Status)
	assert.Empty(t, f.quotas.Contacts())
}

func TestContactCampaignRespectsContactQuota(t *testing.T) {
	limits := generous()
	limits.DailyContactLimit = 0
	f := newFixture(t, limits)
	f.addCampaign(t, "cmp_1", 2)
	enrollContacted(t, f, "cmp_1", "l1", 0)

	_, err := f.stages.ContactCampaign(context.Background(), f.submit(t, taskqueue.TypeContactCampaign, followup.Payload{CampaignID: "cmp_1", LeadID: "l1", StepIdx: 1}))
	assert.Equal(t, 429, apperr.StatusOf(err))
	assert.Empty(t, f.prov.Sent())
}

func TestGenerateCampaignAttachesAndSearches(t *testing.T) {
	f := newFixture(t, generous())
	ctx := context.Background()
	require.NoError(t, f.missions.Create(ctx, &missions.Mission{
		ID: "msn_1", OrganizationID: org, Name: "m", Status: missions.StatusActive,
		Params: missions.Params{Query: "cto", CampaignBrief: "Intro our API", StepCount: 2},
	}))

	task := f.submit(t, taskqueue.TypeGenerateCampaign, missions.GenerateCampaignPayload{MissionID: "msn_1", Brief: "Intro our API", StepCount: 2})
	out, err := f.stages.GenerateCampaign(ctx, task)
	require.NoError(t, err)
	res := out.(*GenerateCampaignResult)
	assert.True(t, strings.HasPrefix(res.CampaignID, "cmp_"))
	assert.Equal(t, 2, res.Steps)

	m, err := f.missions.Get(ctx, "msn_1")
	require.NoError(t, err)
	assert.Equal(t, res.CampaignID, m.Params.CampaignID)

	search := f.claim(t, taskqueue.TypeSearch)
	assert.Contains(t, string(search.Payload), res.CampaignID)

	out, err = f.stages.GenerateCampaign(ctx, task)
	require.NoError(t, err)
	assert.True(t, out.(*GenerateCampaignResult).Reused, "a rerun keeps the attached campaign")
}

func TestGenerateReportStoresWorkbook(t *testing.T) {
	f := newFixture(t, generous())
	ctx := context.Background()

	for _, rec := range []quota.ContactRecord{
		{OrganizationID: org, MissionID: "msn_1", LeadID: "l1", StepIdx: 0, CreatedAt: f.now},
		{OrganizationID: org, MissionID: "msn_1", LeadID: "l1", StepIdx: 1, CreatedAt: f.now},
		{OrganizationID: org, MissionID: "msn_2", LeadID: "l2", CreatedAt: f.now},
	} {
		require.NoError(t, f.quotas.RecordContact(ctx, rec))
	}

	task := f.submit(t, taskqueue.TypeGenerateReport, ReportPayload{MissionID: "msn_1"})
	out, err := f.stages.GenerateReport(ctx, task)
	require.NoError(t, err)
	res := out.(*ReportResult)
	assert.True(t, strings.HasPrefix(res.Key, "reports/org_1/msn_1/2026-05-04/rpt_"))
	assert.Equal(t, 2, res.Contacts)

	content, err := f.store.Get(ctx, res.Key)
	require.NoError(t, err)
	assert.Equal(t, res.Checksum, storage.ComputeChecksum(content))

	wb, err := excelize.OpenReader(strings.NewReader(string(content)))
	require.NoError(t, err)
	defer wb.Close()

	mission, err := wb.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "msn_1", mission)

	summary, err := wb.GetRows(summarySheet)
	require.NoError(t, err)
	figures := map[string]string{}
	for _, row := range summary {
		if len(row) == 2 {
			figures[row[0]] = row[1]
		}
	}
	assert.Equal(t, "2", figures["Messages sent"])
	assert.Equal(t, "1", figures["Leads contacted"])
	assert.Equal(t, "1", figures["Step 2"])

	rows, err := wb.GetRows(tasksSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, task.ID, rows[1][0])
}

func TestInvalidPayload(t *testing.T) {
	f := newFixture(t, generous())
	task := f.submit(t, taskqueue.TypeEnrich, nil)
	_, err := f.stages.Enrich(context.Background(), task)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func mustAppErr(t *testing.T, err error) *apperr.Error {
	t.Helper()
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %v", err)
	return ae
}
