// Package review drives one report's review screen: it loads the server
// state, tracks in-progress row edits and issues save, confirm and
// "not correct" calls.
package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/review"
)

// Backend is the server API the session talks to.
type Backend interface {
	LoadReview(ctx context.Context, reportID string) (*review.Snapshot, error)
	SaveResult(ctx context.Context, resultID string, edit result.Edit) (*result.Result, error)
	Confirm(ctx context.Context, req extraction.ConfirmRequest) (*extraction.Confirmation, error)
	Reject(ctx context.Context, reportID string) (*extraction.Rejection, error)
}

// State is the screen state of a session.
type State string

const (
	StateLoading        State = "loading"
	StateSignInRequired State = "sign_in_required"
	StateError          State = "error"
	StateEmpty          State = "empty"
	StateReady          State = "ready"
)

// NoticeKind tells the caller how to render a Notice.
type NoticeKind string

const (
	NoticeNone  NoticeKind = ""
	NoticeOK    NoticeKind = "ok"
	NoticeError NoticeKind = "error"
)

// Notice is the user-visible outcome of an action. The zero Notice means the
// action did nothing.
type Notice struct {
	Kind    NoticeKind
	Message string
}

func ok(msg string) Notice { return Notice{Kind: NoticeOK, Message: msg} }
func failed(msg string) Notice { return Notice{Kind: NoticeError, Message: msg} }
func errNotice(err error) Notice { return failed(domain.Message(err, err.Error())) }

// DraftPatch is a partial change to a draft. Nil fields are left as they are.
type DraftPatch struct {
	NameRaw    *string
	ValueRaw   *string
	UnitRaw    *string
	DetailsRaw *string
}

// Session holds the review state of one report. It is safe for concurrent
// use; no lock is held across backend calls, and a call that completes after
// a newer Load leaves the reloaded state untouched.
type Session struct {
	backend  Backend
	reportID string

	mu           sync.Mutex
	gen          uint64 // bumped by every Load
	state        State
	errMsg       string
	snap         *review.Snapshot
	rows         []result.Result
	drafts       map[string]result.Edit
	savingRows   map[string]bool
	commitSaving bool
}

// NewSession creates a session in the Loading state.
func NewSession(backend Backend, reportID string) *Session {
	return &Session{
		backend:    backend,
		reportID:   reportID,
		state:      StateLoading,
		drafts:     map[string]result.Edit{},
		savingRows: map[string]bool{},
	}
}

// Load fetches the server state and moves to SignInRequired, Error, Empty or
// Ready. Drafts are discarded.
func (s *Session) Load(ctx context.Context) State {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateLoading
	s.mu.Unlock()

	snap, err := s.backend.LoadReview(ctx, s.reportID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.state
	}
	s.drafts = map[string]result.Edit{}
	s.savingRows = map[string]bool{}
	s.commitSaving = false
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		s.state, s.snap, s.rows = StateSignInRequired, nil, nil
	case err != nil:
		s.state, s.snap, s.rows = StateError, nil, nil
		s.errMsg = domain.Message(err, err.Error())
	case snap.Empty():
		s.state, s.snap, s.rows = StateEmpty, snap, nil
	default:
		s.state, s.snap = StateReady, snap
		s.rows = append([]result.Result(nil), snap.Rows...)
	}
	return s.state
}

// State returns the current screen state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the message of the last load failure.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Rows returns a copy of the server rows.
func (s *Session) Rows() []result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]result.Result(nil), s.rows...)
}

// Report returns the report as last seen, or nil before a successful load.
func (s *Session) Report() *report.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil
	}
	r := s.snap.Report
	return &r
}

// Draft returns the in-progress edit of a row.
func (s *Session) Draft(rowID string) (result.Edit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, found := s.drafts[rowID]
	return d, found
}

// Saving reports whether a save of rowID is in flight.
func (s *Session) Saving(rowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savingRows[rowID]
}

// CommitSaving reports whether a confirm is in flight.
func (s *Session) CommitSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitSaving
}

// HasDirty reports whether any draft is unsaved.
func (s *Session) HasDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts) > 0
}

// CanEdit reports whether row actions are enabled for the viewer.
func (s *Session) CanEdit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canEditLocked()
}

// CanCommit reports whether confirm is enabled: an owner with a current run,
// no unsaved drafts and no confirm in flight.
func (s *Session) CanCommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canActLocked() && len(s.drafts) == 0 && !s.commitSaving
}

func (s *Session) canActLocked() bool {
	return s.state == StateReady && s.snap != nil && s.snap.IsOwner() && s.snap.Run != nil
}

func (s *Session) canEditLocked() bool {
	return s.state == StateReady && s.snap != nil && s.snap.Editable()
}

// staleLocked reports whether a Load started after gen, in which case the
// completion of a call issued under gen must not touch the new state.
func (s *Session) staleLocked(gen uint64) bool {
	return gen != s.gen || s.snap == nil
}

func (s *Session) rowIndex(rowID string) int {
	for i := range s.rows {
		if s.rows[i].ID == rowID {
			return i
		}
	}
	return -1
}

// Edit opens a draft copied from the row. No network call.
func (s *Session) Edit(rowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canEditLocked() {
		return
	}
	if i := s.rowIndex(rowID); i >= 0 {
		s.drafts[rowID] = result.EditOf(&s.rows[i])
	}
}

// DraftChange merges patch into an open draft. No network call.
func (s *Session) DraftChange(rowID string, patch DraftPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, found := s.drafts[rowID]
	if !found || !s.canEditLocked() {
		return
	}
	if patch.NameRaw != nil {
		d.NameRaw = *patch.NameRaw
	}
	if patch.ValueRaw != nil {
		d.ValueRaw = *patch.ValueRaw
	}
	if patch.UnitRaw != nil {
		v := *patch.UnitRaw
		d.UnitRaw = &v
	}
	if patch.DetailsRaw != nil {
		v := *patch.DetailsRaw
		d.DetailsRaw = &v
	}
	s.drafts[rowID] = d
}

// Cancel discards a draft.
func (s *Session) Cancel(rowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, rowID)
}

// Save persists a draft. A draft missing its name or value is refused
// locally. On failure the draft stays so the user can retry.
func (s *Session) Save(ctx context.Context, rowID string) Notice {
	s.mu.Lock()
	if !s.canEditLocked() || s.savingRows[rowID] {
		s.mu.Unlock()
		return Notice{}
	}
	d, found := s.drafts[rowID]
	if !found {
		s.mu.Unlock()
		return failed("Nothing to save")
	}
	if _, err := d.Normalize(time.Now()); err != nil {
		s.mu.Unlock()
		return errNotice(err)
	}
	s.savingRows[rowID] = true
	gen := s.gen
	s.mu.Unlock()

	saved, err := s.backend.SaveResult(ctx, rowID, d)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.staleLocked(gen) {
			delete(s.savingRows, rowID)
		}
		return errNotice(err)
	}
	if s.staleLocked(gen) {
		return ok("Saved")
	}
	delete(s.savingRows, rowID)
	if i := s.rowIndex(rowID); i >= 0 {
		s.rows[i] = *saved
	}
	delete(s.drafts, rowID)
	return ok("Saved")
}

// Commit confirms the report's current run. It is refused while drafts are
// unsaved; the server does not enforce this.
func (s *Session) Commit(ctx context.Context) Notice {
	s.mu.Lock()
	if !s.canActLocked() || s.commitSaving {
		s.mu.Unlock()
		return Notice{}
	}
	if len(s.drafts) > 0 {
		s.mu.Unlock()
		return failed("Save or cancel your edits before confirming")
	}
	reportID, runID := s.snap.Report.ID, s.snap.Run.ID
	if reportID == "" || runID == "" {
		s.mu.Unlock()
		return failed("No extraction run is ready to confirm")
	}
	s.commitSaving = true
	gen := s.gen
	s.mu.Unlock()

	out, err := s.backend.Confirm(ctx, extraction.ConfirmRequest{LabReportID: reportID, ExpectedRunID: runID})

	s.mu.Lock()
	defer s.mu.Unlock()
	stale := s.staleLocked(gen)
	if !stale {
		s.commitSaving = false
	}
	if err != nil {
		return errNotice(err)
	}
	if stale {
		return ok("Results confirmed")
	}

	snap := *s.snap
	run := *snap.Run
	run.Status = extraction.StatusConfirmed
	snap.Run = &run
	snap.Report.Status = out.Status
	snap.Report.FinalExtractionRunID = &out.ExtractionRunID
	confirmedAt := out.ConfirmedAt
	snap.Report.ConfirmedAt = &confirmedAt
	s.snap = &snap
	for i := range s.rows {
		s.rows[i].IsActive = true
		s.rows[i].IsFinal = true
	}
	return ok("Results confirmed")
}

// NotCorrect flags the current run as rejected and returns the report to
// review. Rows are left as they are.
func (s *Session) NotCorrect(ctx context.Context) Notice {
	s.mu.Lock()
	if !s.canEditLocked() || s.commitSaving {
		s.mu.Unlock()
		return Notice{}
	}
	reportID := s.snap.Report.ID
	gen := s.gen
	s.mu.Unlock()

	out, err := s.backend.Reject(ctx, reportID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return errNotice(err)
	}
	if s.staleLocked(gen) {
		return ok("Marked as not correct")
	}
	snap := *s.snap
	if snap.Run != nil {
		run := *snap.Run
		run.Status = out.RunStatus
		snap.Run = &run
	}
	snap.Report.Status = out.Status
	s.snap = &snap
	return ok("Marked as not correct")
}

