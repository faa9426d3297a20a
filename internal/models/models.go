// Package models defines the core data structures shared across the import
// pipeline: parsed IATI activities, selection state, import rules, impact
// summaries, and batch status tracking.
//
// Example usage:
//
//	activity := &models.ParsedActivity{
//		IATIIdentifier: "XM-DAC-41114-PROJECT-1",
//		Title:          "Rural water supply",
//	}
//	if activity.HasErrors() {
//		// excluded from the default selection
//	}
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Severity classifies a validation issue attached to a parsed activity.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// IsValid checks if the severity is one of the known values
func (s Severity) IsValid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ValidationIssue describes a single problem found while validating an
// activity. Issues with SeverityError exclude the activity from the default
// selection; warnings and info leave it selectable.
type ValidationIssue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Field, v.Message)
}

// CountryAllocation is a declared recipient country with its percentage
// share of the activity. Percentage may be zero when the source document
// omits it.
type CountryAllocation struct {
	Code       string          `json:"code"`
	Percentage decimal.Decimal `json:"percentage"`
}

// RegionAllocation is a declared recipient region with its percentage share.
type RegionAllocation struct {
	Code       string          `json:"code"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Coordinates is a geocoded point attached to an activity location.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is a subnational place named by an activity. Coordinates is nil
// when the location carries no point geometry.
type Location struct {
	Name        string       `json:"name"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// SectorAllocation is a declared sector with its percentage share.
type SectorAllocation struct {
	Code       string          `json:"code"`
	Vocabulary string          `json:"vocabulary,omitempty"`
	Percentage decimal.Decimal `json:"percentage"`
}

// ActivityTransaction is a single financial transaction on an activity.
// Recipient codes are transaction-level overrides of the activity-level
// recipient countries and regions.
type ActivityTransaction struct {
	Type                 string          `json:"type"`
	Date                 string          `json:"date"`
	Value                decimal.Decimal `json:"value"`
	Currency             string          `json:"currency,omitempty"`
	Description          string          `json:"description,omitempty"`
	ProviderOrg          string          `json:"providerOrg,omitempty"`
	ReceiverOrg          string          `json:"receiverOrg,omitempty"`
	RecipientCountryCode string          `json:"recipientCountryCode,omitempty"`
	RecipientRegionCode  string          `json:"recipientRegionCode,omitempty"`
}

// Budget is a planned budget line on an activity.
type Budget struct {
	Type        string          `json:"type,omitempty"`
	PeriodStart string          `json:"periodStart"`
	PeriodEnd   string          `json:"periodEnd"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency,omitempty"`
}

// PlannedDisbursement is a planned outgoing payment on an activity.
type PlannedDisbursement struct {
	PeriodStart string          `json:"periodStart"`
	PeriodEnd   string          `json:"periodEnd"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency,omitempty"`
}

// ParsedActivity is one activity extracted from an IATI source, enriched
// with validation issues and matching results against existing records.
type ParsedActivity struct {
	IATIIdentifier       string                `json:"iatiIdentifier"`
	Title                string                `json:"title"`
	Description          string                `json:"description,omitempty"`
	ReportingOrgRef      string                `json:"reportingOrgRef,omitempty"`
	DefaultCurrency      string                `json:"defaultCurrency,omitempty"`
	Status               string                `json:"status,omitempty"`
	Hierarchy            *int                  `json:"hierarchy,omitempty"`
	PlannedStartDate     string                `json:"plannedStartDate,omitempty"`
	ActualStartDate      string                `json:"actualStartDate,omitempty"`
	PlannedEndDate       string                `json:"plannedEndDate,omitempty"`
	ActualEndDate        string                `json:"actualEndDate,omitempty"`
	RecipientCountries   []CountryAllocation   `json:"recipientCountries,omitempty"`
	RecipientRegions     []RegionAllocation    `json:"recipientRegions,omitempty"`
	Locations            []Location            `json:"locations,omitempty"`
	Sectors              []SectorAllocation    `json:"sectors,omitempty"`
	Transactions         []ActivityTransaction `json:"transactions,omitempty"`
	Budgets              []Budget              `json:"budgets,omitempty"`
	PlannedDisbursements []PlannedDisbursement `json:"plannedDisbursements,omitempty"`
	Matched              bool                  `json:"matched"`
	MatchedActivityID    string                `json:"matchedActivityId,omitempty"`
	ValidationIssues     []ValidationIssue     `json:"validationIssues,omitempty"`
}

// Clone returns a deep copy of the activity. Nested slices and pointers
// are duplicated so holders of the copy can mutate it freely.
func (a *ParsedActivity) Clone() *ParsedActivity {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Hierarchy != nil {
		h := *a.Hierarchy
		clone.Hierarchy = &h
	}
	clone.RecipientCountries = append([]CountryAllocation(nil), a.RecipientCountries...)
	clone.RecipientRegions = append([]RegionAllocation(nil), a.RecipientRegions...)
	if a.Locations != nil {
		clone.Locations = make([]Location, len(a.Locations))
		for i, loc := range a.Locations {
			clone.Locations[i] = loc
			if loc.Coordinates != nil {
				coords := *loc.Coordinates
				clone.Locations[i].Coordinates = &coords
			}
		}
	}
	clone.Sectors = append([]SectorAllocation(nil), a.Sectors...)
	clone.Transactions = append([]ActivityTransaction(nil), a.Transactions...)
	clone.Budgets = append([]Budget(nil), a.Budgets...)
	clone.PlannedDisbursements = append([]PlannedDisbursement(nil), a.PlannedDisbursements...)
	clone.ValidationIssues = append([]ValidationIssue(nil), a.ValidationIssues...)
	return &clone
}

// HasErrors reports whether any validation issue carries error severity.
func (a *ParsedActivity) HasErrors() bool {
	for _, issue := range a.ValidationIssues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any validation issue carries warning severity.
func (a *ParsedActivity) HasWarnings() bool {
	for _, issue := range a.ValidationIssues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// DateSpan returns the activity's effective start and end dates. Actual
// dates take precedence over planned ones. An unparseable or missing date
// yields a zero time on that side.
func (a *ParsedActivity) DateSpan() (start, end time.Time) {
	start = firstValidDate(a.ActualStartDate, a.PlannedStartDate)
	end = firstValidDate(a.ActualEndDate, a.PlannedEndDate)
	return start, end
}

// TransactionVolume sums the values of all transactions on the activity.
// Currencies are not converted; the sum is a nominal figure.
func (a *ParsedActivity) TransactionVolume() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range a.Transactions {
		total = total.Add(tx.Value)
	}
	return total
}

func firstValidDate(candidates ...string) time.Time {
	for _, c := range candidates {
		if t, err := ParseISODate(c); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseISODate parses a date in ISO 8601 format (YYYY-MM-DD). Timestamps
// with a time component are truncated to the date.
func ParseISODate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02T15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}

// SelectionSet tracks which activities are chosen for import, keyed by
// IATI identifier.
type SelectionSet struct {
	selected map[string]bool
}

// NewSelectionSet creates an empty selection.
func NewSelectionSet() *SelectionSet {
	return &SelectionSet{selected: make(map[string]bool)}
}

// NewDefaultSelection selects every activity that has no error-severity
// validation issues.
func NewDefaultSelection(activities []*ParsedActivity) *SelectionSet {
	s := NewSelectionSet()
	for _, a := range activities {
		if !a.HasErrors() {
			s.Add(a.IATIIdentifier)
		}
	}
	return s
}

// Add marks an identifier as selected.
func (s *SelectionSet) Add(id string) {
	s.selected[id] = true
}

// Remove unmarks an identifier.
func (s *SelectionSet) Remove(id string) {
	delete(s.selected, id)
}

// Toggle flips the selection state of an identifier and returns the new state.
func (s *SelectionSet) Toggle(id string) bool {
	if s.selected[id] {
		delete(s.selected, id)
		return false
	}
	s.selected[id] = true
	return true
}

// Has reports whether an identifier is selected.
func (s *SelectionSet) Has(id string) bool {
	return s.selected[id]
}

// Len returns the number of selected identifiers.
func (s *SelectionSet) Len() int {
	return len(s.selected)
}

// IDs returns the selected identifiers in unspecified order.
func (s *SelectionSet) IDs() []string {
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	return ids
}

// MatchedStrategy controls how activities that match an existing record
// are imported.
type MatchedStrategy string

const (
	UpdateExisting   MatchedStrategy = "update_existing"
	SkipExisting     MatchedStrategy = "skip_existing"
	CreateNewVersion MatchedStrategy = "create_new_version"
)

// IsValid checks if the strategy is one of the known values
func (m MatchedStrategy) IsValid() bool {
	switch m {
	case UpdateExisting, SkipExisting, CreateNewVersion:
		return true
	}
	return false
}

// TransactionStrategy controls how transactions on an updated activity
// are merged with the existing record's transactions.
type TransactionStrategy string

const (
	ReplaceAllTransactions TransactionStrategy = "replace_all"
	AppendNewTransactions  TransactionStrategy = "append_new"
	SkipTransactions       TransactionStrategy = "skip"
)

// IsValid checks if the strategy is one of the known values
func (t TransactionStrategy) IsValid() bool {
	switch t {
	case ReplaceAllTransactions, AppendNewTransactions, SkipTransactions:
		return true
	}
	return false
}

// ImportRules captures the user's choices for how matched activities and
// their transactions are handled during import.
type ImportRules struct {
	MatchedActivities      MatchedStrategy     `json:"matchedActivities"`
	Transactions           TransactionStrategy `json:"transactions"`
	AutoMatchOrganizations bool                `json:"autoMatchOrganizations"`
}

// DefaultImportRules returns the rules applied when the user makes no
// explicit choice: update matched activities, replace their transactions
// and let the executor match participating organisations automatically.
func DefaultImportRules() ImportRules {
	return ImportRules{
		MatchedActivities:      UpdateExisting,
		Transactions:           ReplaceAllTransactions,
		AutoMatchOrganizations: true,
	}
}

// Validate checks that both strategies are known values.
func (r ImportRules) Validate() error {
	if !r.MatchedActivities.IsValid() {
		return fmt.Errorf("invalid matched activities strategy: %s", r.MatchedActivities)
	}
	if !r.Transactions.IsValid() {
		return fmt.Errorf("invalid transaction strategy: %s", r.Transactions)
	}
	return nil
}

// ImportImpact summarizes what an import run will do before it is executed.
type ImportImpact struct {
	ToCreate          int             `json:"toCreate"`
	ToUpdate          int             `json:"toUpdate"`
	ToSkip            int             `json:"toSkip"`
	TotalActivities   int             `json:"totalActivities"`
	TotalTransactions int             `json:"totalTransactions"`
	TransactionVolume decimal.Decimal `json:"transactionVolume"`
}

// BatchAction is the action the import executor took, or will take, for a
// single activity in a batch.
type BatchAction string

const (
	ActionCreate BatchAction = "create"
	ActionUpdate BatchAction = "update"
	ActionSkip   BatchAction = "skip"
	ActionFail   BatchAction = "fail"
)

// BatchState is the lifecycle state of an import batch.
type BatchState string

const (
	BatchPending    BatchState = "pending"
	BatchProcessing BatchState = "processing"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
)

// IsTerminal reports whether the state is final.
func (s BatchState) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// ImportDetails counts the child records written for a single activity.
type ImportDetails struct {
	Transactions       int `json:"transactions"`
	Organizations      int `json:"organizations"`
	Budgets            int `json:"budgets"`
	Sectors            int `json:"sectors"`
	Locations          int `json:"locations"`
	Contacts           int `json:"contacts"`
	Documents          int `json:"documents"`
	PolicyMarkers      int `json:"policyMarkers"`
	HumanitarianScopes int `json:"humanitarianScopes"`
	Tags               int `json:"tags"`
	Results            int `json:"results"`
	Indicators         int `json:"indicators"`
	Periods            int `json:"periods"`
}

// BatchItemStatus is the per-activity outcome within a batch.
type BatchItemStatus struct {
	IATIIdentifier string        `json:"iatiIdentifier"`
	Title          string        `json:"title"`
	Action         BatchAction   `json:"action"`
	ActivityID     string        `json:"activityId,omitempty"`
	Error          string        `json:"error,omitempty"`
	Details        ImportDetails `json:"details"`
}

// BatchStatus is the full status of an import batch as reported by the
// executor.
type BatchStatus struct {
	BatchID     string            `json:"batchId"`
	State       BatchState        `json:"state"`
	Total       int               `json:"total"`
	Created     int               `json:"created"`
	Updated     int               `json:"updated"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	Items       []BatchItemStatus `json:"items,omitempty"`
	SubmittedAt time.Time         `json:"submittedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Validate checks the count conservation invariant on terminal batches:
// created + updated + skipped + failed must equal total.
func (b *BatchStatus) Validate() error {
	if !b.State.IsTerminal() {
		return nil
	}
	sum := b.Created + b.Updated + b.Skipped + b.Failed
	if sum != b.Total {
		return fmt.Errorf("batch %s count mismatch: created=%d updated=%d skipped=%d failed=%d total=%d",
			b.BatchID, b.Created, b.Updated, b.Skipped, b.Failed, b.Total)
	}
	return nil
}

// ValidationSummary aggregates validation outcomes across a parsed document.
type ValidationSummary struct {
	Total        int `json:"total"`
	Valid        int `json:"valid"`
	WithWarnings int `json:"withWarnings"`
	WithErrors   int `json:"withErrors"`
}

// Summarize computes the validation summary for a set of activities.
// Activities with both warnings and errors count under errors only.
func Summarize(activities []*ParsedActivity) ValidationSummary {
	summary := ValidationSummary{Total: len(activities)}
	for _, a := range activities {
		switch {
		case a.HasErrors():
			summary.WithErrors++
		case a.HasWarnings():
			summary.WithWarnings++
		default:
			summary.Valid++
		}
	}
	return summary
}

// OrgScope describes the organization whose activities were fetched from
// the registry.
type OrgScope struct {
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name,omitempty"`
	TotalPublished int    `json:"totalPublished"`
}

// FetchResult is the outcome of fetching an organization's activities.
type FetchResult struct {
	Activities []*ParsedActivity `json:"activities"`
	Total      int               `json:"total"`
	FetchedAt  time.Time         `json:"fetchedAt"`
	Cached     bool              `json:"cached"`
	OrgScope   *OrgScope         `json:"orgScope,omitempty"`
}

// Clone returns a deep copy of the result, including every activity. Each
// session works on its own copy; match marking on one never reaches
// another.
func (r *FetchResult) Clone() *FetchResult {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Activities != nil {
		clone.Activities = make([]*ParsedActivity, len(r.Activities))
		for i, a := range r.Activities {
			clone.Activities[i] = a.Clone()
		}
	}
	if r.OrgScope != nil {
		scope := *r.OrgScope
		clone.OrgScope = &scope
	}
	return &clone
}

// CountPreview is a lightweight count of activities matching the current
// fetch parameters, used before committing to a full fetch.
type CountPreview struct {
	Count            int     `json:"count"`
	EstimatedSeconds float64 `json:"estimatedSeconds"`
}
