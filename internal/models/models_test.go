package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseISODate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "plain date",
			input: "2023-06-15",
			want:  time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 timestamp truncated",
			input: "2023-06-15T14:30:00Z",
			want:  time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "timestamp without zone",
			input: "2023-06-15T14:30:00",
			want:  time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "not-a-date",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseISODate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseISODate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseISODate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDateSpanActualTakesPrecedence(t *testing.T) {
	a := &ParsedActivity{
		PlannedStartDate: "2023-01-01",
		ActualStartDate:  "2023-02-15",
		PlannedEndDate:   "2024-12-31",
	}

	start, end := a.DateSpan()
	if !start.Equal(time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected actual start date, got %v", start)
	}
	if !end.Equal(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected planned end date fallback, got %v", end)
	}
}

func TestDateSpanNoDates(t *testing.T) {
	a := &ParsedActivity{}
	start, end := a.DateSpan()
	if !start.IsZero() || !end.IsZero() {
		t.Errorf("expected zero times, got start=%v end=%v", start, end)
	}
}

func TestTransactionVolume(t *testing.T) {
	a := &ParsedActivity{
		Transactions: []ActivityTransaction{
			{Value: decimal.NewFromFloat(1000.50)},
			{Value: decimal.NewFromFloat(2499.50)},
		},
	}

	want := decimal.NewFromInt(3500)
	if got := a.TransactionVolume(); !got.Equal(want) {
		t.Errorf("TransactionVolume() = %s, want %s", got, want)
	}
}

func TestHasErrorsAndWarnings(t *testing.T) {
	a := &ParsedActivity{
		ValidationIssues: []ValidationIssue{
			{Field: "title", Message: "missing title", Severity: SeverityWarning},
		},
	}

	if a.HasErrors() {
		t.Error("expected no errors")
	}
	if !a.HasWarnings() {
		t.Error("expected warnings")
	}

	a.ValidationIssues = append(a.ValidationIssues, ValidationIssue{
		Field: "iati-identifier", Message: "missing identifier", Severity: SeverityError,
	})
	if !a.HasErrors() {
		t.Error("expected errors after adding error issue")
	}
}

func TestNewDefaultSelectionExcludesErrors(t *testing.T) {
	activities := []*ParsedActivity{
		{IATIIdentifier: "XM-1"},
		{
			IATIIdentifier: "XM-2",
			ValidationIssues: []ValidationIssue{
				{Severity: SeverityError, Field: "title", Message: "missing"},
			},
		},
		{
			IATIIdentifier: "XM-3",
			ValidationIssues: []ValidationIssue{
				{Severity: SeverityWarning, Field: "sector", Message: "no sector"},
			},
		},
	}

	s := NewDefaultSelection(activities)
	if s.Len() != 2 {
		t.Fatalf("expected 2 selected, got %d", s.Len())
	}
	if !s.Has("XM-1") || !s.Has("XM-3") {
		t.Error("expected XM-1 and XM-3 selected")
	}
	if s.Has("XM-2") {
		t.Error("activity with errors should not be selected")
	}
}

func TestSelectionSetToggle(t *testing.T) {
	s := NewSelectionSet()
	if got := s.Toggle("XM-1"); !got {
		t.Error("first toggle should select")
	}
	if got := s.Toggle("XM-1"); got {
		t.Error("second toggle should deselect")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty selection, got %d", s.Len())
	}
}

func TestParsedActivityClone(t *testing.T) {
	h := 2
	original := &ParsedActivity{
		IATIIdentifier:     "XM-1",
		Title:              "Water",
		Hierarchy:          &h,
		RecipientCountries: []CountryAllocation{{Code: "MM", Percentage: decimal.NewFromInt(100)}},
		Locations: []Location{
			{Name: "Yangon", Coordinates: &Coordinates{Latitude: 16.8, Longitude: 96.1}},
		},
		Transactions:     []ActivityTransaction{{Type: "D", Value: decimal.NewFromInt(500)}},
		ValidationIssues: []ValidationIssue{{Field: "title", Severity: SeverityWarning}},
	}

	clone := original.Clone()
	clone.Matched = true
	clone.MatchedActivityID = "local-1"
	clone.RecipientCountries[0].Code = "TH"
	clone.Locations[0].Coordinates.Latitude = 0
	*clone.Hierarchy = 9
	clone.ValidationIssues[0].Severity = SeverityError

	if original.Matched || original.MatchedActivityID != "" {
		t.Error("clone mutation leaked match marking into the original")
	}
	if original.RecipientCountries[0].Code != "MM" {
		t.Error("clone shares the recipient countries slice")
	}
	if original.Locations[0].Coordinates.Latitude != 16.8 {
		t.Error("clone shares location coordinates")
	}
	if *original.Hierarchy != 2 {
		t.Error("clone shares the hierarchy pointer")
	}
	if original.ValidationIssues[0].Severity != SeverityWarning {
		t.Error("clone shares the validation issues slice")
	}

	var nilActivity *ParsedActivity
	if nilActivity.Clone() != nil {
		t.Error("cloning nil should yield nil")
	}
}

func TestImportRulesValidate(t *testing.T) {
	rules := DefaultImportRules()
	if err := rules.Validate(); err != nil {
		t.Errorf("default rules should be valid: %v", err)
	}
	if !rules.AutoMatchOrganizations {
		t.Error("default rules should auto-match organisations")
	}

	rules.MatchedActivities = "overwrite_everything"
	if err := rules.Validate(); err == nil {
		t.Error("expected error for unknown matched activities strategy")
	}

	rules = DefaultImportRules()
	rules.Transactions = "merge"
	if err := rules.Validate(); err == nil {
		t.Error("expected error for unknown transaction strategy")
	}
}

func TestBatchStatusValidate(t *testing.T) {
	status := &BatchStatus{
		BatchID: "batch-1",
		State:   BatchCompleted,
		Total:   10,
		Created: 4,
		Updated: 3,
		Skipped: 2,
		Failed:  1,
	}
	if err := status.Validate(); err != nil {
		t.Errorf("conserved counts should validate: %v", err)
	}

	status.Failed = 0
	if err := status.Validate(); err == nil {
		t.Error("expected count mismatch error")
	}

	// Non-terminal batches are not checked.
	status.State = BatchProcessing
	if err := status.Validate(); err != nil {
		t.Errorf("processing batch should not be validated: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	activities := []*ParsedActivity{
		{IATIIdentifier: "XM-1"},
		{
			IATIIdentifier: "XM-2",
			ValidationIssues: []ValidationIssue{
				{Severity: SeverityWarning},
			},
		},
		{
			IATIIdentifier: "XM-3",
			ValidationIssues: []ValidationIssue{
				{Severity: SeverityWarning},
				{Severity: SeverityError},
			},
		},
	}

	summary := Summarize(activities)
	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if summary.Valid != 1 {
		t.Errorf("Valid = %d, want 1", summary.Valid)
	}
	if summary.WithWarnings != 1 {
		t.Errorf("WithWarnings = %d, want 1", summary.WithWarnings)
	}
	if summary.WithErrors != 1 {
		t.Errorf("WithErrors = %d, want 1", summary.WithErrors)
	}
}

func TestBatchStateIsTerminal(t *testing.T) {
	if BatchPending.IsTerminal() || BatchProcessing.IsTerminal() {
		t.Error("pending and processing should not be terminal")
	}
	if !BatchCompleted.IsTerminal() || !BatchFailed.IsTerminal() {
		t.Error("completed and failed should be terminal")
	}
}
