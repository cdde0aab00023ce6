package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/review"
)

type fakeBackend struct {
	snap    *review.Snapshot
	loadErr error
	saveErr error
	confErr error
	rejErr  error

	saves    []result.Edit
	confirms []extraction.ConfirmRequest
	rejects  int
}

func (f *fakeBackend) LoadReview(context.Context, string) (*review.Snapshot, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	cp := *f.snap
	cp.Rows = append([]result.Result(nil), f.snap.Rows...)
	return &cp, nil
}

func (f *fakeBackend) SaveResult(_ context.Context, id string, edit result.Edit) (*result.Result, error) {
	f.saves = append(f.saves, edit)
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	u, err := edit.Normalize(time.Now())
	if err != nil {
		return nil, err
	}
	r := result.Result{ID: id}
	r.Apply(u)
	return &r, nil
}

func (f *fakeBackend) Confirm(_ context.Context, req extraction.ConfirmRequest) (*extraction.Confirmation, error) {
	f.confirms = append(f.confirms, req)
	if f.confErr != nil {
		return nil, f.confErr
	}
	return &extraction.Confirmation{
		LabReportID: req.LabReportID, ExtractionRunID: req.ExpectedRunID,
		Status: report.StatusFinal, ConfirmedAt: time.Now(), ConfirmedRows: 1,
	}, nil
}

func (f *fakeBackend) Reject(_ context.Context, reportID string) (*extraction.Rejection, error) {
	f.rejects++
	if f.rejErr != nil {
		return nil, f.rejErr
	}
	return &extraction.Rejection{LabReportID: reportID, ExtractionRunID: "run1",
		RunStatus: extraction.StatusRejected, Status: report.StatusReviewRequired}, nil
}

func ptr(s string) *string { return &s }

func readySnapshot(role household.Role) *review.Snapshot {
	return &review.Snapshot{
		Report: report.Report{ID: "r1", Status: report.StatusReviewRequired, CurrentExtractionRunID: ptr("run1")},
		Run:    &extraction.Run{ID: "run1", LabReportID: "r1", Status: extraction.StatusReady},
		Rows: []result.Result{
			{ID: "row1", ExtractionRunID: "run1", NameRaw: "Artifact 1", ValueRaw: "Review artifact"},
		},
		Role: role,
	}
}

func readySession(t *testing.T, role household.Role) (*Session, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{snap: readySnapshot(role)}
	s := NewSession(b, "r1")
	if st := s.Load(context.Background()); st != StateReady {
		t.Fatalf("state = %s, want ready", st)
	}
	return s, b
}

func TestLoadStates(t *testing.T) {
	tests := []struct {
		name string
		b    *fakeBackend
		want State
	}{
		{"signed out", &fakeBackend{loadErr: domain.Errorf(domain.ErrUnauthenticated, "Unauthorized")}, StateSignInRequired},
		{"error", &fakeBackend{loadErr: errors.New("network down")}, StateError},
		{"no run", &fakeBackend{snap: &review.Snapshot{Report: report.Report{ID: "r1"}, Role: household.RoleOwner}}, StateEmpty},
		{"no rows", &fakeBackend{snap: &review.Snapshot{Run: &extraction.Run{ID: "run1"}, Role: household.RoleOwner}}, StateEmpty},
		{"ready", &fakeBackend{snap: readySnapshot(household.RoleOwner)}, StateReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(tt.b, "r1")
			if s.State() != StateLoading {
				t.Fatalf("initial state = %s", s.State())
			}
			if got := s.Load(context.Background()); got != tt.want {
				t.Fatalf("Load() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLoadErrorMessage(t *testing.T) {
	s := NewSession(&fakeBackend{loadErr: errors.New("network down")}, "r1")
	s.Load(context.Background())
	if s.Err() != "network down" {
		t.Fatalf("Err() = %q", s.Err())
	}
}

func TestEditDraftCancel(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)

	s.Edit("row1")
	d, found := s.Draft("row1")
	if !found || d.NameRaw != "Artifact 1" {
		t.Fatalf("draft = %+v found=%v", d, found)
	}
	s.DraftChange("row1", DraftPatch{NameRaw: ptr("LDL"), UnitRaw: ptr("mg/dL")})
	d, _ = s.Draft("row1")
	if d.NameRaw != "LDL" || d.ValueRaw != "Review artifact" || d.UnitRaw == nil || *d.UnitRaw != "mg/dL" {
		t.Fatalf("merged draft = %+v", d)
	}
	if !s.HasDirty() || s.CanCommit() {
		t.Fatal("open draft should block commit")
	}

	s.Cancel("row1")
	if _, found := s.Draft("row1"); found || s.HasDirty() {
		t.Fatal("cancel should discard the draft")
	}
	if s.Rows()[0].NameRaw != "Artifact 1" {
		t.Fatal("cancel must not touch rows")
	}
	if len(b.saves) != 0 {
		t.Fatal("local actions must not call the backend")
	}
}

func TestDraftChangeWithoutDraftIsNoop(t *testing.T) {
	s, _ := readySession(t, household.RoleOwner)
	s.DraftChange("row1", DraftPatch{NameRaw: ptr("LDL")})
	if _, found := s.Draft("row1"); found {
		t.Fatal("DraftChange must not open a draft")
	}
}

func TestSave(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)

	s.Edit("row1")
	s.DraftChange("row1", DraftPatch{NameRaw: ptr(" LDL "), ValueRaw: ptr("1,234.5")})
	n := s.Save(context.Background(), "row1")
	if n.Kind != NoticeOK {
		t.Fatalf("notice = %+v", n)
	}
	row := s.Rows()[0]
	if row.NameRaw != "LDL" || row.ValueNum == nil || *row.ValueNum != 1234.5 {
		t.Fatalf("row = %+v", row)
	}
	if s.HasDirty() || s.Saving("row1") {
		t.Fatal("draft should be cleared after save")
	}
	if len(b.saves) != 1 {
		t.Fatalf("saves = %d", len(b.saves))
	}
}

func TestSave_RequiresNameAndValue(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)

	s.Edit("row1")
	s.DraftChange("row1", DraftPatch{ValueRaw: ptr("   ")})
	n := s.Save(context.Background(), "row1")
	if n.Kind != NoticeError || n.Message != "Name and value are required" {
		t.Fatalf("notice = %+v", n)
	}
	if len(b.saves) != 0 {
		t.Fatal("invalid draft must not reach the backend")
	}
	if _, found := s.Draft("row1"); !found {
		t.Fatal("draft must stay open")
	}
}

func TestSave_WithoutDraft(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)
	if n := s.Save(context.Background(), "row1"); n.Kind != NoticeError {
		t.Fatalf("notice = %+v", n)
	}
	if len(b.saves) != 0 {
		t.Fatal("no backend call expected")
	}
}

func TestSave_FailureKeepsDraft(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)
	b.saveErr = domain.Errorf(domain.ErrState, "Extraction run is no longer editable")

	s.Edit("row1")
	s.DraftChange("row1", DraftPatch{ValueRaw: ptr("42")})
	n := s.Save(context.Background(), "row1")
	if n.Kind != NoticeError || n.Message != "Extraction run is no longer editable" {
		t.Fatalf("notice = %+v", n)
	}
	d, found := s.Draft("row1")
	if !found || d.ValueRaw != "42" {
		t.Fatal("draft must survive a failed save")
	}
	if s.Rows()[0].ValueRaw != "Review artifact" {
		t.Fatal("rows must keep server truth")
	}
}

func TestCommit(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)

	if !s.CanCommit() {
		t.Fatal("owner with clean drafts should be able to commit")
	}
	n := s.Commit(context.Background())
	if n.Kind != NoticeOK {
		t.Fatalf("notice = %+v", n)
	}
	if len(b.confirms) != 1 || b.confirms[0].LabReportID != "r1" || b.confirms[0].ExpectedRunID != "run1" {
		t.Fatalf("confirms = %+v", b.confirms)
	}
	if rep := s.Report(); rep.Status != report.StatusFinal || rep.FinalRun() != "run1" {
		t.Fatalf("report = %+v", rep)
	}
	if row := s.Rows()[0]; !row.IsActive || !row.IsFinal {
		t.Fatalf("row = %+v", row)
	}
	if s.CanEdit() {
		t.Fatal("confirmed run is read-only")
	}
}

func TestCommit_BlockedByDraft(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)
	s.Edit("row1")
	if n := s.Commit(context.Background()); n.Kind != NoticeError {
		t.Fatalf("notice = %+v", n)
	}
	if len(b.confirms) != 0 {
		t.Fatal("commit with open drafts must not call the backend")
	}
}

func TestCommit_Failure(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)
	b.confErr = domain.Errorf(domain.ErrState, "No extracted rows to confirm")

	n := s.Commit(context.Background())
	if n.Kind != NoticeError || n.Message != "No extracted rows to confirm" {
		t.Fatalf("notice = %+v", n)
	}
	if s.Report().Status != report.StatusReviewRequired || s.CommitSaving() {
		t.Fatal("failed confirm must not change local state")
	}
}

func TestNotCorrect(t *testing.T) {
	s, b := readySession(t, household.RoleOwner)
	before := s.Rows()

	n := s.NotCorrect(context.Background())
	if n.Kind != NoticeOK || b.rejects != 1 {
		t.Fatalf("notice = %+v rejects=%d", n, b.rejects)
	}
	if s.Report().Status != report.StatusReviewRequired {
		t.Fatalf("report status = %s", s.Report().Status)
	}
	after := s.Rows()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatal("rows must not change")
	}
	if !s.CanEdit() {
		t.Fatal("rejected run stays editable")
	}
}

func TestNonOwnerActionsAreNoops(t *testing.T) {
	s, b := readySession(t, household.RoleMember)
	ctx := context.Background()

	s.Edit("row1")
	if _, found := s.Draft("row1"); found {
		t.Fatal("member cannot open drafts")
	}
	if n := s.Save(ctx, "row1"); n != (Notice{}) {
		t.Fatalf("save notice = %+v", n)
	}
	if n := s.Commit(ctx); n != (Notice{}) {
		t.Fatalf("commit notice = %+v", n)
	}
	if n := s.NotCorrect(ctx); n != (Notice{}) {
		t.Fatalf("not correct notice = %+v", n)
	}
	if len(b.saves)+len(b.confirms)+b.rejects != 0 {
		t.Fatal("member actions must not call the backend")
	}
	if s.CanEdit() || s.CanCommit() {
		t.Fatal("member controls must be disabled")
	}
}

// gatedBackend blocks Confirm and Reject until released, so a reload can
// run while they are in flight.
type gatedBackend struct {
	*fakeBackend
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	failing bool
}

func newGatedBackend(snap *review.Snapshot) *gatedBackend {
	return &gatedBackend{
		fakeBackend: &fakeBackend{snap: snap},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedBackend) fail() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = true
}

func (g *gatedBackend) LoadReview(ctx context.Context, id string) (*review.Snapshot, error) {
	g.mu.Lock()
	failing := g.failing
	g.mu.Unlock()
	if failing {
		return nil, errors.New("network down")
	}
	return g.fakeBackend.LoadReview(ctx, id)
}

func (g *gatedBackend) Confirm(ctx context.Context, req extraction.ConfirmRequest) (*extraction.Confirmation, error) {
	close(g.entered)
	<-g.release
	return g.fakeBackend.Confirm(ctx, req)
}

func (g *gatedBackend) Reject(ctx context.Context, reportID string) (*extraction.Rejection, error) {
	close(g.entered)
	<-g.release
	return g.fakeBackend.Reject(ctx, reportID)
}

func TestActionCompletesAfterFailedReload(t *testing.T) {
	actions := map[string]func(*Session) Notice{
		"commit":      func(s *Session) Notice { return s.Commit(context.Background()) },
		"not correct": func(s *Session) Notice { return s.NotCorrect(context.Background()) },
	}
	for name, act := range actions {
		t.Run(name, func(t *testing.T) {
			b := newGatedBackend(readySnapshot(household.RoleOwner))
			s := NewSession(b, "r1")
			if st := s.Load(context.Background()); st != StateReady {
				t.Fatalf("state = %s", st)
			}

			done := make(chan Notice, 1)
			go func() { done <- act(s) }()
			<-b.entered

			b.fail()
			if st := s.Load(context.Background()); st != StateError {
				t.Fatalf("reload state = %s, want error", st)
			}
			close(b.release)

			n := <-done
			if n.Kind != NoticeOK {
				t.Fatalf("notice = %+v", n)
			}
			if s.State() != StateError || s.Report() != nil {
				t.Fatalf("completion overwrote the reloaded state: %s", s.State())
			}
		})
	}
}

func TestCommitAfterSuccessfulReloadKeepsFreshRows(t *testing.T) {
	b := newGatedBackend(readySnapshot(household.RoleOwner))
	s := NewSession(b, "r1")
	s.Load(context.Background())

	done := make(chan Notice, 1)
	go func() { done <- s.Commit(context.Background()) }()
	<-b.entered

	if st := s.Load(context.Background()); st != StateReady {
		t.Fatalf("reload state = %s", st)
	}
	close(b.release)
	<-done

	for _, r := range s.Rows() {
		if r.IsActive || r.IsFinal {
			t.Fatalf("stale commit rewrote reloaded row %+v", r)
		}
	}
	if s.CommitSaving() {
		t.Fatal("commit flag should be clear after reload")
	}
}
