package result

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain"
)

var decimalRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// ParseValueNum parses a raw value as a decimal number. Surrounding space and
// thousands-separator commas are ignored. Empty or unparsable input yields nil;
// it never fails.
func ParseValueNum(raw string) *float64 {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" || !decimalRe.MatchString(s) {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Edit is a reviewer's change to a result row.
type Edit struct {
	NameRaw    string  `json:"name_raw"`
	ValueRaw   string  `json:"value_raw"`
	UnitRaw    *string `json:"unit_raw"`
	DetailsRaw *string `json:"details_raw"`
}

// Update is a normalized Edit ready to persist.
type Update struct {
	NameRaw    string
	ValueRaw   string
	UnitRaw    *string
	ValueNum   *float64
	DetailsRaw *string
	EditedAt   time.Time
}

// Normalize trims the edit, checks required fields and derives value_num.
func (e Edit) Normalize(now time.Time) (Update, error) {
	name := strings.TrimSpace(e.NameRaw)
	value := strings.TrimSpace(e.ValueRaw)
	if name == "" || value == "" {
		return Update{}, domain.Errorf(domain.ErrValidation, "Name and value are required")
	}
	return Update{
		NameRaw:    name,
		ValueRaw:   value,
		UnitRaw:    trimOrNil(e.UnitRaw),
		ValueNum:   ParseValueNum(value),
		DetailsRaw: trimOrNil(e.DetailsRaw),
		EditedAt:   now.UTC(),
	}, nil
}

// EditOf copies the editable fields of a row, as when a reviewer opens it.
func EditOf(r *Result) Edit {
	return Edit{
		NameRaw:    r.NameRaw,
		ValueRaw:   r.ValueRaw,
		UnitRaw:    copyPtr(r.UnitRaw),
		DetailsRaw: copyPtr(r.DetailsRaw),
	}
}

// Apply merges a persisted update into the row.
func (r *Result) Apply(u Update) {
	r.NameRaw = u.NameRaw
	r.ValueRaw = u.ValueRaw
	r.UnitRaw = u.UnitRaw
	r.ValueNum = u.ValueNum
	r.DetailsRaw = u.DetailsRaw
	t := u.EditedAt
	r.EditedAt = &t
}

func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
