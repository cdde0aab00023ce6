package extraction_test

import (
	"encoding/json"
	"testing"

	"github.com/labtracksimple/labtrack/internal/domain/extraction"
)

func TestStatusEditable(t *testing.T) {
	tests := []struct {
		status extraction.Status
		want   bool
	}{
		{extraction.StatusRunning, false},
		{extraction.StatusReady, true},
		{extraction.StatusFailed, false},
		{extraction.StatusConfirmed, false},
		{extraction.StatusRejected, true},
	}
	for _, tt := range tests {
		if got := tt.status.Editable(); got != tt.want {
			t.Errorf("%s.Editable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if !extraction.StatusConfirmed.Valid() {
		t.Fatal("confirmed should be valid")
	}
	if extraction.Status("pending").Valid() {
		t.Fatal("pending is not a run status")
	}
}

func TestOutcomeJSON(t *testing.T) {
	tests := []struct {
		name    string
		outcome extraction.Outcome
		want    map[string]any
		absent  []string
	}{
		{
			name:    "success with no rows",
			outcome: extraction.Outcome{ExtractionRunID: "run-1", Status: "review_required"},
			want:    map[string]any{"extraction_run_id": "run-1", "inserted_rows": float64(0), "status": "review_required"},
			absent:  []string{"error", "superseded"},
		},
		{
			name:    "superseded",
			outcome: extraction.Outcome{ExtractionRunID: "run-1", InsertedRows: 2, Status: "review_required", Superseded: true},
			want:    map[string]any{"inserted_rows": float64(2), "superseded": true},
		},
		{
			name:    "failure",
			outcome: extraction.Outcome{ExtractionRunID: "run-1", Status: "extraction_failed", Error: "extract candidates: boom"},
			want:    map[string]any{"extraction_run_id": "run-1", "status": "extraction_failed", "error": "extract candidates: boom"},
			absent:  []string{"inserted_rows", "superseded"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range []any{tt.outcome, &tt.outcome} {
				data, err := json.Marshal(v)
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				var got map[string]any
				if err := json.Unmarshal(data, &got); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				for k, want := range tt.want {
					if got[k] != want {
						t.Errorf("%s: %s = %v, want %v", data, k, got[k], want)
					}
				}
				for _, k := range tt.absent {
					if _, ok := got[k]; ok {
						t.Errorf("%s: unexpected key %s", data, k)
					}
				}
			}
		})
	}
}
