package service

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/port/database"
)

// Ensure mockStore implements database.Store at compile time.
var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory database.Store. InTx snapshots every table and
// restores it when fn fails, so tests can assert that nothing was written.
type mockStore struct {
	mu sync.Mutex

	people    map[string]household.Person
	members   map[string]household.Role // householdID|userID
	reports   map[string]report.Report
	artifacts map[string]artifact.Artifact
	runs      map[string]extraction.Run
	results   map[string]result.Result

	seq   int
	clock time.Time

	// errs injects a failure into the named method.
	errs map[string]error
	// calls records every write in order.
	calls []string
}

func newMockStore() *mockStore {
	return &mockStore{
		people:    map[string]household.Person{},
		members:   map[string]household.Role{},
		reports:   map[string]report.Report{},
		artifacts: map[string]artifact.Artifact{},
		runs:      map[string]extraction.Run{},
		results:   map[string]result.Result{},
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		errs:      map[string]error{},
	}
}

func (m *mockStore) fail(method string) error { return m.errs[method] }

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockStore) record(call string) { m.calls = append(m.calls, call) }

// --- fixtures ---

func (m *mockStore) addPerson(id, householdID string) {
	m.people[id] = household.Person{ID: id, HouseholdID: householdID, Name: id}
}

func (m *mockStore) addMember(householdID, userID string, role household.Role) {
	m.members[householdID+"|"+userID] = role
}

func (m *mockStore) addReport(r report.Report) {
	if r.Status == "" {
		r.Status = report.StatusDraft
	}
	m.reports[r.ID] = r
}

func (m *mockStore) addRun(r extraction.Run) {
	if r.StartedAt.IsZero() {
		r.StartedAt = m.tick()
	}
	m.runs[r.ID] = r
}

func (m *mockStore) addResult(r result.Result) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.tick()
	}
	m.results[r.ID] = r
}

func (m *mockStore) report(id string) report.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[id]
}

func (m *mockStore) run(id string) extraction.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

func (m *mockStore) result(id string) result.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[id]
}

func (m *mockStore) runRows(runID string) []result.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []result.Result
	for _, r := range m.results {
		if r.ExtractionRunID == runID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- transactions ---

type mockTxKey struct{}

func (m *mockStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(mockTxKey{}) != nil {
		return fn(ctx)
	}
	if err := m.fail("InTx"); err != nil {
		return err
	}
	m.mu.Lock()
	reports, artifacts, runs, results := maps.Clone(m.reports), maps.Clone(m.artifacts), maps.Clone(m.runs), maps.Clone(m.results)
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, mockTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.reports, m.artifacts, m.runs, m.results = reports, artifacts, runs, results
		m.mu.Unlock()
		return err
	}
	return nil
}

// --- households ---

func (m *mockStore) GetPerson(_ context.Context, id string) (*household.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetPerson"); err != nil {
		return nil, err
	}
	p, ok := m.people[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockStore) GetMemberRole(_ context.Context, householdID, userID string) (household.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetMemberRole"); err != nil {
		return "", err
	}
	role, ok := m.members[householdID+"|"+userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return role, nil
}

// --- reports ---

func (m *mockStore) CreateReport(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateReport"); err != nil {
		return err
	}
	r.ID = m.nextID("report")
	r.CreatedAt = m.tick()
	r.UpdatedAt = r.CreatedAt
	if r.Status == "" {
		r.Status = report.StatusDraft
	}
	m.reports[r.ID] = *r
	m.record("CreateReport")
	return nil
}

func (m *mockStore) GetReport(_ context.Context, id string) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetReport"); err != nil {
		return nil, err
	}
	r, ok := m.reports[id]
	if !ok || r.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockStore) LockReport(ctx context.Context, id string) (*report.Report, error) {
	if ctx.Value(mockTxKey{}) == nil {
		return nil, fmt.Errorf("LockReport outside transaction")
	}
	if err := m.fail("LockReport"); err != nil {
		return nil, err
	}
	return m.GetReport(ctx, id)
}

func (m *mockStore) updateReport(id string, fn func(r *report.Report)) error {
	r, ok := m.reports[id]
	if !ok || r.DeletedAt != nil {
		return domain.ErrNotFound
	}
	fn(&r)
	r.UpdatedAt = m.tick()
	m.reports[id] = r
	return nil
}

func (m *mockStore) MarkReportExtracted(_ context.Context, reportID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkReportExtracted"); err != nil {
		return err
	}
	m.record("MarkReportExtracted")
	return m.updateReport(reportID, func(r *report.Report) {
		r.Status = report.StatusReviewRequired
		r.CurrentExtractionRunID = &runID
	})
}

func (m *mockStore) MarkReportExtractionFailed(_ context.Context, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkReportExtractionFailed"); err != nil {
		return err
	}
	m.record("MarkReportExtractionFailed")
	return m.updateReport(reportID, func(r *report.Report) { r.Status = report.StatusExtractionFailed })
}

func (m *mockStore) FinalizeReport(_ context.Context, reportID, runID, confirmedBy string, confirmedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FinalizeReport"); err != nil {
		return err
	}
	m.record("FinalizeReport")
	return m.updateReport(reportID, func(r *report.Report) {
		r.Status = report.StatusFinal
		r.FinalExtractionRunID = &runID
		r.ConfirmedAt = &confirmedAt
		r.ConfirmedBy = &confirmedBy
	})
}

func (m *mockStore) ReturnReportToReview(_ context.Context, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReturnReportToReview"); err != nil {
		return err
	}
	m.record("ReturnReportToReview")
	return m.updateReport(reportID, func(r *report.Report) { r.Status = report.StatusReviewRequired })
}

func (m *mockStore) SoftDeleteOrphanDrafts(_ context.Context, createdBefore time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SoftDeleteOrphanDrafts"); err != nil {
		return nil, err
	}
	ids := []string{}
	for id, r := range m.reports {
		if r.DeletedAt != nil || r.Status != report.StatusDraft || !r.CreatedAt.Before(createdBefore) {
			continue
		}
		orphan := true
		for _, a := range m.artifacts {
			if a.LabReportID == id && a.DeletedAt == nil {
				orphan = false
				break
			}
		}
		if orphan {
			now := m.clock
			r.DeletedAt = &now
			m.reports[id] = r
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- artifacts ---

func (m *mockStore) CreateArtifact(_ context.Context, a *artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateArtifact"); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = artifact.StatusPending
	}
	a.CreatedAt = m.tick()
	m.artifacts[a.ID] = *a
	m.record("CreateArtifact")
	return nil
}

func (m *mockStore) MarkArtifactReady(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkArtifactReady"); err != nil {
		return err
	}
	a, ok := m.artifacts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = artifact.StatusReady
	m.artifacts[id] = a
	m.record("MarkArtifactReady")
	return nil
}

func (m *mockStore) DeleteArtifact(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteArtifact"); err != nil {
		return err
	}
	if _, ok := m.artifacts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.artifacts, id)
	m.record("DeleteArtifact")
	return nil
}

func (m *mockStore) ListReadyArtifacts(_ context.Context, reportID string) ([]artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListReadyArtifacts"); err != nil {
		return nil, err
	}
	out := []artifact.Artifact{}
	for _, a := range m.artifacts {
		if a.LabReportID == reportID && a.Status == artifact.StatusReady && a.DeletedAt == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- extraction runs ---

func (m *mockStore) CreateExtractionRun(_ context.Context, run *extraction.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateExtractionRun"); err != nil {
		return err
	}
	run.ID = m.nextID("run")
	run.StartedAt = m.tick()
	if run.Status == "" {
		run.Status = extraction.StatusRunning
	}
	m.runs[run.ID] = *run
	m.record("CreateExtractionRun")
	return nil
}

func (m *mockStore) GetExtractionRun(_ context.Context, id string) (*extraction.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetExtractionRun"); err != nil {
		return nil, err
	}
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockStore) UpdateExtractionRun(_ context.Context, id string, status extraction.Status, completedAt time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateExtractionRun"); err != nil {
		return err
	}
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	if !completedAt.IsZero() {
		r.CompletedAt = &completedAt
	}
	r.Error = errMsg
	m.runs[id] = r
	m.record("UpdateExtractionRun:" + string(status))
	return nil
}

func (m *mockStore) HasNewerCompletedRun(_ context.Context, reportID string, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("HasNewerCompletedRun"); err != nil {
		return false, err
	}
	for _, r := range m.runs {
		if r.LabReportID == reportID && r.StartedAt.After(startedAt) && r.Status != extraction.StatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// --- results ---

func (m *mockStore) InsertResults(_ context.Context, rows []result.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertResults"); err != nil {
		return err
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = m.nextID("result")
		}
		rows[i].CreatedAt = m.tick()
		m.results[rows[i].ID] = rows[i]
	}
	m.record("InsertResults")
	return nil
}

func (m *mockStore) GetResult(_ context.Context, id string) (*result.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetResult"); err != nil {
		return nil, err
	}
	r, ok := m.results[id]
	if !ok || r.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockStore) ListRunResults(_ context.Context, reportID, runID string) ([]result.Result, error) {
	if err := m.fail("ListRunResults"); err != nil {
		return nil, err
	}
	out := []result.Result{}
	for _, r := range m.runRows(runID) {
		if r.LabReportID == reportID && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) CountRunResults(ctx context.Context, reportID, runID string) (int, error) {
	if err := m.fail("CountRunResults"); err != nil {
		return 0, err
	}
	rows, err := m.ListRunResults(ctx, reportID, runID)
	return len(rows), err
}

func (m *mockStore) UpdateResult(_ context.Context, id, ownerUserID string, u result.Update) (*result.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateResult"); err != nil {
		return nil, err
	}
	r, ok := m.results[id]
	if !ok || r.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	rep := m.reports[r.LabReportID]
	if m.members[rep.HouseholdID+"|"+ownerUserID] != household.RoleOwner {
		return nil, domain.ErrNotFound
	}
	r.Apply(u)
	m.results[id] = r
	m.record("UpdateResult")
	return &r, nil
}

func (m *mockStore) DeactivateOtherRuns(_ context.Context, reportID, keepRunID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeactivateOtherRuns"); err != nil {
		return 0, err
	}
	var n int64
	for id, r := range m.results {
		if r.LabReportID == reportID && r.ExtractionRunID != keepRunID && r.DeletedAt == nil && r.IsActive {
			r.IsActive = false
			r.IsFinal = false
			m.results[id] = r
			n++
		}
	}
	m.record("DeactivateOtherRuns")
	return n, nil
}

func (m *mockStore) ActivateRun(_ context.Context, reportID, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ActivateRun"); err != nil {
		return 0, err
	}
	var n int64
	for id, r := range m.results {
		if r.LabReportID == reportID && r.ExtractionRunID == runID && r.DeletedAt == nil {
			r.IsActive = true
			r.IsFinal = true
			m.results[id] = r
			n++
		}
	}
	m.record("ActivateRun")
	return n, nil
}

func (m *mockStore) ListFinalResults(_ context.Context, personID string) ([]result.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListFinalResults"); err != nil {
		return nil, err
	}
	out := []result.Point{}
	for _, r := range m.results {
		if r.PersonID != personID || !r.IsActive || !r.IsFinal || r.DeletedAt != nil {
			continue
		}
		out = append(out, result.Point{
			ResultID:    r.ID,
			LabReportID: r.LabReportID,
			ReportDate:  m.reports[r.LabReportID].ReportDate,
			NameRaw:     r.NameRaw,
			ValueRaw:    r.ValueRaw,
			UnitRaw:     r.UnitRaw,
			ValueNum:    r.ValueNum,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultID < out[j].ResultID })
	return out, nil
}
