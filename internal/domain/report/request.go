package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/labtracksimple/labtrack/internal/domain"
)

// DateLayout is the wire format of report dates.
const DateLayout = "2006-01-02"

var validate = validator.New()

// CreateRequest holds the intake form fields for a new report.
type CreateRequest struct {
	PersonID   string `json:"person_id" validate:"required,uuid"`
	ReportDate string `json:"report_date" validate:"required,datetime=2006-01-02"`
	Source     string `json:"source" validate:"omitempty,max=200"`
	Notes      string `json:"notes" validate:"omitempty,max=4000"`
}

// Validate checks the request fields and returns a domain validation error
// naming the first offending field.
func (r *CreateRequest) Validate() error {
	r.PersonID = strings.TrimSpace(r.PersonID)
	r.ReportDate = strings.TrimSpace(r.ReportDate)
	r.Source = strings.TrimSpace(r.Source)
	r.Notes = strings.TrimSpace(r.Notes)

	if err := validate.Struct(r); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domain.Errorf(domain.ErrValidation, "%s is %s", jsonName(ve[0].Field()), describe(ve[0].Tag()))
		}
		return fmt.Errorf("validate report request: %w", err)
	}
	return nil
}

// Date parses ReportDate. Call Validate first.
func (r *CreateRequest) Date() (time.Time, error) {
	return time.Parse(DateLayout, r.ReportDate)
}

func jsonName(field string) string {
	switch field {
	case "PersonID":
		return "person_id"
	case "ReportDate":
		return "report_date"
	case "Source":
		return "source"
	case "Notes":
		return "notes"
	}
	return strings.ToLower(field)
}

func describe(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "uuid":
		return "not a valid id"
	case "datetime":
		return "not a valid date (YYYY-MM-DD)"
	case "max":
		return "too long"
	}
	return "invalid"
}
