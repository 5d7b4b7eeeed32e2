package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/leadforge/mission-service/internal/pkg/ids"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/storage"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

const (
	reportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	summarySheet      = "Summary"
	tasksSheet        = "Tasks"
	reportTaskLimit   = 200
)

type ReportResult struct {
	Key      string `json:"key"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum"`
	Tasks    int    `json:"tasks"`
	Contacts int    `json:"contacts"`
}

// GenerateReport writes a workbook with the mission's task counts, contact
// figures and most recent tasks to storage.
func (s *Stages) GenerateReport(ctx context.Context, task *taskqueue.Task) (any, error) {
	var p ReportPayload
	if err := decodePayload(task, &p); err != nil {
		return nil, err
	}
	if p.MissionID == "" {
		p.MissionID = task.MissionID
	}
	if s.deps.Storage == nil {
		return nil, fmt.Errorf("generate report: no storage configured")
	}

	list, err := s.deps.Tasks.List(ctx, taskqueue.ListFilter{
		OrganizationID: task.OrganizationID,
		MissionID:      p.MissionID,
		Limit:          reportTaskLimit,
	})
	if err != nil {
		return nil, err
	}

	contacts, err := s.deps.Quota.MissionContacts(ctx, task.OrganizationID, p.MissionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	content, err := buildWorkbook(p.MissionID, now, list, contacts)
	if err != nil {
		return nil, fmt.Errorf("build report workbook: %w", err)
	}

	reportID := ids.NewAt(ids.Report, now)
	key := storage.BuildReportKey(task.OrganizationID, p.MissionID, now, reportID)
	if err := s.deps.Storage.Put(ctx, key, content, &storage.Metadata{
		ContentType:    reportContentType,
		OrganizationID: task.OrganizationID,
		MissionID:      p.MissionID,
		TaskID:         task.ID,
		CreatedAt:      now,
	}); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	s.logger.Info().
		Str("task_id", task.ID).
		Str("mission_id", p.MissionID).
		Str("key", key).
		Msg("Report stored")
	return &ReportResult{
		Key:      key,
		Size:     len(content),
		Checksum: storage.ComputeChecksum(content),
		Tasks:    len(list.Items),
		Contacts: contacts.Sent,
	}, nil
}

func buildWorkbook(missionID string, at time.Time, list *taskqueue.ListResult, contacts *quota.ContactStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	rows := [][]any{
		{"Mission", missionID},
		{"Generated at", at.Format(time.RFC3339)},
		{},
		{"Status", "Tasks"},
	}
	statuses := make([]string, 0, len(list.Counts))
	for st := range list.Counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		rows = append(rows, []any{st, list.Counts[taskqueue.TaskStatus(st)]})
	}

	byType := map[taskqueue.TaskType]int{}
	for _, t := range list.Items {
		byType[t.Type]++
	}
	rows = append(rows, []any{}, []any{"Type", "Recent tasks"})
	for _, typ := range taskqueue.AllTypes {
		if n := byType[typ]; n > 0 {
			rows = append(rows, []any{string(typ), n})
		}
	}

	rows = append(rows, []any{}, []any{"Contacts", "Sent"},
		[]any{"Messages sent", contacts.Sent},
		[]any{"Leads contacted", contacts.Leads},
	)
	steps := make([]int, 0, len(contacts.ByStep))
	for step := range contacts.ByStep {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	for _, step := range steps {
		rows = append(rows, []any{fmt.Sprintf("Step %d", step+1), contacts.ByStep[step]})
	}
	if contacts.LastAt != nil {
		rows = append(rows, []any{"Last contact", contacts.LastAt.UTC().Format(time.RFC3339)})
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(tasksSheet); err != nil {
		return nil, err
	}
	rows = [][]any{{"ID", "Type", "Status", "Retries", "Error", "Created", "Updated"}}
	for _, t := range list.Items {
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		rows = append(rows, []any{
			t.ID, string(t.Type), string(t.Status), t.RetryCount, msg,
			t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeRows(f, tasksSheet, rows); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
