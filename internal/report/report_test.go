package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"iati-import-service/internal/models"
)

func buildStatus() *models.BatchStatus {
	return &models.BatchStatus{
		BatchID: "3f2a9c1e-5d44-4b8a-9b1f-0c7e2d6a8e90",
		State:   models.BatchCompleted,
		Total:   4,
		Created: 2,
		Updated: 1,
		Skipped: 0,
		Failed:  1,
		Items: []models.BatchItemStatus{
			{
				IATIIdentifier: "XM-1",
				Title:          "Rural water supply",
				Action:         models.ActionCreate,
				ActivityID:     "act-100",
				Details: models.ImportDetails{
					Transactions: 3,
					Budgets:      2,
					Sectors:      1,
				},
			},
			{
				IATIIdentifier: "XM-2",
				Title:          `Programme "Phase II"`,
				Action:         models.ActionUpdate,
				ActivityID:     "act-101",
				Details:        models.ImportDetails{Transactions: 1},
			},
			{
				IATIIdentifier: "XM-3",
				Title:          "Health outreach",
				Action:         models.ActionCreate,
				ActivityID:     "act-102",
			},
			{
				IATIIdentifier: "XM-4",
				Title:          "Broken record",
				Action:         models.ActionFail,
				Error:          "missing iati-identifier",
			},
		},
	}
}

func TestSummary(t *testing.T) {
	b := NewBuilder(buildStatus())
	s := b.Summary()

	if s.Created != 2 || s.Updated != 1 || s.Skipped != 0 || s.Failed != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestFailedItems(t *testing.T) {
	b := NewBuilder(buildStatus())
	failed := b.FailedItems()

	if len(failed) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(failed))
	}
	if failed[0].IATIIdentifier != "XM-4" {
		t.Errorf("failed item = %s, want XM-4", failed[0].IATIIdentifier)
	}
	if failed[0].Error != "missing iati-identifier" {
		t.Errorf("unexpected error message %q", failed[0].Error)
	}
}

func TestFormatImportCounts(t *testing.T) {
	b := NewBuilder(buildStatus())

	tests := []struct {
		name    string
		details models.ImportDetails
		want    string
	}{
		{
			name:    "mixed counts in fixed order",
			details: models.ImportDetails{Transactions: 3, Budgets: 2, Sectors: 1},
			want:    "3 transactions, 2 budgets, 1 sector",
		},
		{
			name:    "single of each",
			details: models.ImportDetails{Transactions: 1, PolicyMarkers: 1},
			want:    "1 transaction, 1 policy marker",
		},
		{
			name:    "plural multiword",
			details: models.ImportDetails{HumanitarianScopes: 2},
			want:    "2 humanitarian scopes",
		},
		{
			name:    "zero counts omitted entirely",
			details: models.ImportDetails{},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.FormatImportCounts(tt.details); got != tt.want {
				t.Errorf("FormatImportCounts() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	b := NewBuilder(buildStatus())
	var buf bytes.Buffer
	if err := b.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("generated CSV does not parse: %v", err)
	}

	// Header plus one row per item.
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	header := records[0]
	if header[0] != "iati_identifier" || header[4] != "activity_id" {
		t.Errorf("unexpected header %v", header)
	}
	if len(header) != 18 {
		t.Errorf("expected 18 columns, got %d", len(header))
	}

	first := records[1]
	if first[0] != "XM-1" || first[2] != "create" || first[3] != "success" {
		t.Errorf("unexpected first row %v", first)
	}
	if first[5] != "3" {
		t.Errorf("transactions column = %s, want 3", first[5])
	}

	// Embedded quotes survive the round trip.
	if records[2][1] != `Programme "Phase II"` {
		t.Errorf("quoted title mangled: %q", records[2][1])
	}

	failedRow := records[4]
	if failedRow[2] != "fail" || failedRow[3] != "missing iati-identifier" {
		t.Errorf("unexpected failed row %v", failedRow)
	}
}

func TestExportFilename(t *testing.T) {
	got := ExportFilename("3f2a9c1e-5d44-4b8a-9b1f-0c7e2d6a8e90")
	if got != "import-report-3f2a9c1e.csv" {
		t.Errorf("ExportFilename() = %s", got)
	}

	if got := ExportFilename("abc"); got != "import-report-abc.csv" {
		t.Errorf("short id filename = %s", got)
	}
}

func TestWriteConsoleSummary(t *testing.T) {
	b := NewBuilder(buildStatus())
	var buf bytes.Buffer
	if err := b.WriteConsoleSummary(&buf); err != nil {
		t.Fatalf("WriteConsoleSummary() error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Created: 2", "Failed:  1", "XM-4", "missing iati-identifier"} {
		if !strings.Contains(out, want) {
			t.Errorf("console summary missing %q:\n%s", want, out)
		}
	}
}

func TestEnglishPluralizer(t *testing.T) {
	p := EnglishPluralizer{}
	if got := p.Pluralize(1, "transaction"); got != "1 transaction" {
		t.Errorf("Pluralize(1) = %q", got)
	}
	if got := p.Pluralize(0, "budget"); got != "0 budgets" {
		t.Errorf("Pluralize(0) = %q", got)
	}
	if got := p.Pluralize(5, "sector"); got != "5 sectors" {
		t.Errorf("Pluralize(5) = %q", got)
	}
}
