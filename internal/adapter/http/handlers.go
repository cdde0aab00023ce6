package http

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/review"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/middleware"
	"github.com/labtracksimple/labtrack/internal/service"
)

const (
	jsonBodyLimit   = 64 << 10 // 64 KB
	multipartMemory = 8 << 20  // 8 MB held in memory, the rest spills to disk
	multipartSlack  = 1 << 20  // form fields on top of the file
)

// Extractor runs extraction for a report.
type Extractor interface {
	Extract(ctx context.Context, caller *user.Identity, req extraction.ExtractRequest) (*extraction.Outcome, error)
}

// Confirmer finalizes the rows of a report's current run.
type Confirmer interface {
	Confirm(ctx context.Context, caller *user.Identity, req extraction.ConfirmRequest) (*extraction.Confirmation, error)
}

// Reviewer serves the review screen.
type Reviewer interface {
	Load(ctx context.Context, caller *user.Identity, reportID string) (*review.Snapshot, error)
	SaveResult(ctx context.Context, caller *user.Identity, resultID string, edit result.Edit) (*result.Result, error)
	Reject(ctx context.Context, caller *user.Identity, reportID string) (*extraction.Rejection, error)
}

// Intake accepts uploaded reports.
type Intake interface {
	Submit(ctx context.Context, caller *user.Identity, req report.CreateRequest, file []byte) (*service.IntakeResult, error)
}

// Trends serves confirmed values per person.
type Trends interface {
	Series(ctx context.Context, caller *user.Identity, personID string) ([]result.Point, error)
}

// Pinger checks a backing dependency for health reporting.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker reports whether a connection-oriented dependency is up.
type ConnChecker interface {
	IsConnected() bool
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Extraction    Extractor
	Confirmation  Confirmer
	Review        Reviewer
	Intake        Intake
	Trends        Trends
	DB            Pinger
	Queue         ConnChecker
	MaxUploadSize int64
	Version       string
}

// ExtractReport handles POST /api/v1/functions/extract.
func (h *Handlers) ExtractReport(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[extraction.ExtractRequest](w, r, jsonBodyLimit)
	if !ok {
		return
	}
	out, err := h.Extraction.Extract(r.Context(), middleware.IdentityFromContext(r.Context()), req)
	if err != nil {
		if out != nil {
			writeJSON(w, http.StatusInternalServerError, out)
			return
		}
		writeDomainError(w, err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ConfirmReport handles POST /api/v1/functions/confirm.
func (h *Handlers) ConfirmReport(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[extraction.ConfirmRequest](w, r, jsonBodyLimit)
	if !ok {
		return
	}
	out, err := h.Confirmation.Confirm(r.Context(), middleware.IdentityFromContext(r.Context()), req)
	if err != nil {
		writeDomainError(w, err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateReport handles POST /api/v1/reports with a multipart form carrying
// the report fields and the file.
func (h *Handlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	data, err := readPart(f, h.MaxUploadSize)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	req := report.CreateRequest{
		PersonID:   r.FormValue("person_id"),
		ReportDate: r.FormValue("report_date"),
		Source:     r.FormValue("source"),
		Notes:      r.FormValue("notes"),
	}
	out, err := h.Intake.Submit(r.Context(), middleware.IdentityFromContext(r.Context()), req, data)
	if err != nil {
		writeDomainError(w, err, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// readPart reads at most limit+1 bytes so the intake size check still sees
// an oversized file.
func readPart(f multipart.File, limit int64) ([]byte, error) {
	defer func() { _ = f.Close() }()
	if limit <= 0 {
		return io.ReadAll(f)
	}
	return io.ReadAll(io.LimitReader(f, limit+1))
}

// GetReview handles GET /api/v1/reports/{id}/review.
func (h *Handlers) GetReview(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Review.Load(r.Context(), middleware.IdentityFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RejectReport handles POST /api/v1/reports/{id}/reject.
func (h *Handlers) RejectReport(w http.ResponseWriter, r *http.Request) {
	out, err := h.Review.Reject(r.Context(), middleware.IdentityFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateResult handles PATCH /api/v1/results/{id}.
func (h *Handlers) UpdateResult(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !requireField(w, id, "result id") {
		return
	}
	edit, ok := readJSON[result.Edit](w, r, jsonBodyLimit)
	if !ok {
		return
	}
	row, err := h.Review.SaveResult(r.Context(), middleware.IdentityFromContext(r.Context()), id, edit)
	if err != nil {
		writeDomainError(w, err, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

type trendResponse struct {
	PersonID string         `json:"person_id"`
	Points   []result.Point `json:"points"`
}

// PersonTrends handles GET /api/v1/people/{id}/trends.
func (h *Handlers) PersonTrends(w http.ResponseWriter, r *http.Request) {
	personID := urlParam(r, "id")
	points, err := h.Trends.Series(r.Context(), middleware.IdentityFromContext(r.Context()), personID)
	if err != nil {
		writeDomainError(w, err, "internal server error")
		return
	}
	if points == nil {
		points = []result.Point{}
	}
	writeJSON(w, http.StatusOK, trendResponse{PersonID: personID, Points: points})
}

type healthStatus struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health. Any dependency down turns the status degraded
// and the response 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Version: h.Version, Services: map[string]string{}}
	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			status.Services["postgres"] = "down"
			status.Status = "degraded"
		} else {
			status.Services["postgres"] = "up"
		}
	}
	if h.Queue != nil {
		if h.Queue.IsConnected() {
			status.Services["nats"] = "up"
		} else {
			status.Services["nats"] = "down"
			status.Status = "degraded"
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
