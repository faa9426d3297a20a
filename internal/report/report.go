// Package report builds human-readable and CSV renderings of a finished
// import batch.
//
// Example usage:
//
//	builder := report.NewBuilder(status)
//	summary := builder.Summary()
//	if err := builder.WriteCSV(file); err != nil {
//		return err
//	}
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"iati-import-service/internal/models"
)

// Summary holds the four headline counters of a batch.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Builder renders views of a single batch status.
type Builder struct {
	status     *models.BatchStatus
	pluralizer Pluralizer
}

// NewBuilder creates a builder for the given batch status.
func NewBuilder(status *models.BatchStatus) *Builder {
	return &Builder{
		status:     status,
		pluralizer: EnglishPluralizer{},
	}
}

// Summary returns the headline counters.
func (b *Builder) Summary() Summary {
	return Summary{
		Created: b.status.Created,
		Updated: b.status.Updated,
		Skipped: b.status.Skipped,
		Failed:  b.status.Failed,
	}
}

// FailedItems returns the items whose import failed, with their error
// messages.
func (b *Builder) FailedItems() []models.BatchItemStatus {
	var failed []models.BatchItemStatus
	for _, item := range b.status.Items {
		if item.Action == models.ActionFail {
			failed = append(failed, item)
		}
	}
	return failed
}

// countField pairs an ImportDetails accessor with its singular noun. Order
// here fixes both the CSV column order and the summary string order.
type countField struct {
	singular string
	header   string
	value    func(models.ImportDetails) int
}

var countFields = []countField{
	{"transaction", "transactions", func(d models.ImportDetails) int { return d.Transactions }},
	{"organization", "organizations", func(d models.ImportDetails) int { return d.Organizations }},
	{"budget", "budgets", func(d models.ImportDetails) int { return d.Budgets }},
	{"sector", "sectors", func(d models.ImportDetails) int { return d.Sectors }},
	{"location", "locations", func(d models.ImportDetails) int { return d.Locations }},
	{"contact", "contacts", func(d models.ImportDetails) int { return d.Contacts }},
	{"document", "documents", func(d models.ImportDetails) int { return d.Documents }},
	{"policy marker", "policy_markers", func(d models.ImportDetails) int { return d.PolicyMarkers }},
	{"humanitarian scope", "humanitarian_scopes", func(d models.ImportDetails) int { return d.HumanitarianScopes }},
	{"tag", "tags", func(d models.ImportDetails) int { return d.Tags }},
	{"result", "results", func(d models.ImportDetails) int { return d.Results }},
	{"indicator", "indicators", func(d models.ImportDetails) int { return d.Indicators }},
	{"period", "periods", func(d models.ImportDetails) int { return d.Periods }},
}

// FormatImportCounts renders the non-zero detail counts of one item as a
// comma-joined summary, e.g. "3 transactions, 2 budgets, 1 sector".
// An item with no child records yields an empty string.
func (b *Builder) FormatImportCounts(details models.ImportDetails) string {
	out := ""
	for _, f := range countFields {
		n := f.value(details)
		if n == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += b.pluralizer.Pluralize(n, f.singular)
	}
	return out
}

// WriteCSV writes one row per batch item with the fixed column set:
// identifier, title, action, status, activity id, then every detail count.
// Quoting and escaping follow RFC 4180 via encoding/csv.
func (b *Builder) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := []string{"iati_identifier", "title", "action", "status", "activity_id"}
	for _, f := range countFields {
		header = append(header, f.header)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, item := range b.status.Items {
		status := "success"
		if item.Action == models.ActionFail {
			status = item.Error
		}
		row := []string{
			item.IATIIdentifier,
			item.Title,
			string(item.Action),
			status,
			item.ActivityID,
		}
		for _, f := range countFields {
			row = append(row, strconv.Itoa(f.value(item.Details)))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", item.IATIIdentifier, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ExportFilename derives the suggested download name for a batch's CSV
// report from the first 8 characters of its id.
func ExportFilename(batchID string) string {
	short := batchID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("import-report-%s.csv", short)
}

// WriteConsoleSummary writes a plain-text batch summary suitable for CLI
// output.
func (b *Builder) WriteConsoleSummary(w io.Writer) error {
	s := b.Summary()
	if _, err := fmt.Fprintf(w, "Import batch %s: %s\n", b.status.BatchID, b.status.State); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  Created: %d\n  Updated: %d\n  Skipped: %d\n  Failed:  %d\n",
		s.Created, s.Updated, s.Skipped, s.Failed); err != nil {
		return err
	}

	failed := b.FailedItems()
	if len(failed) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "Failures:"); err != nil {
		return err
	}
	for _, item := range failed {
		if _, err := fmt.Fprintf(w, "  %s (%s): %s\n", item.IATIIdentifier, item.Title, item.Error); err != nil {
			return err
		}
	}
	return nil
}
