// Package wizard implements the five-step import wizard state machine:
// source, preview, rules, import, results. Steps are strictly linear with
// guarded forward transitions and no skip-ahead.
package wizard

import (
	"fmt"
	"sync"

	"iati-import-service/pkg/logger"

	"iati-import-service/internal/filter"
	"iati-import-service/internal/impact"
	"iati-import-service/internal/models"
)

// Step is one wizard step.
type Step string

const (
	StepSource  Step = "source"
	StepPreview Step = "preview"
	StepRules   Step = "rules"
	StepImport  Step = "import"
	StepResults Step = "results"
)

var stepOrder = []Step{StepSource, StepPreview, StepRules, StepImport, StepResults}

// FetchState tracks the in-flight source fetch.
type FetchState string

const (
	FetchIdle    FetchState = "idle"
	FetchActive  FetchState = "fetching"
	FetchSuccess FetchState = "success"
	FetchFailed  FetchState = "error"
)

// Wizard owns the activity list and all step state. Child views receive
// read-only snapshots and push mutations back through its methods; nothing
// outside the wizard mutates its state.
type Wizard struct {
	mu sync.RWMutex

	step        Step
	fetchState  FetchState
	activities  []*models.ParsedActivity
	orgScope    *models.OrgScope
	validation  models.ValidationSummary
	selection   *models.SelectionSet
	rules       models.ImportRules
	criteria    filter.Criteria
	batchID     string
	batchStatus *models.BatchStatus

	logger logger.Logger
}

// New creates a wizard at the source step with default rules and an empty
// selection.
func New(log logger.Logger) *Wizard {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Wizard{
		step:       StepSource,
		fetchState: FetchIdle,
		selection:  models.NewSelectionSet(),
		rules:      models.DefaultImportRules(),
		logger:     log.WithComponent("wizard"),
	}
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.step
}

// FetchState returns the source fetch status.
func (w *Wizard) FetchState() FetchState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fetchState
}

// SetFetchState records the source fetch status.
func (w *Wizard) SetFetchState(state FetchState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fetchState = state
}

// SetActivities installs a freshly parsed or fetched activity list. The
// selection resets to the default (everything without errors) and any
// previous batch is discarded.
func (w *Wizard) SetActivities(activities []*models.ParsedActivity, orgScope *models.OrgScope) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.activities = activities
	w.orgScope = orgScope
	w.validation = models.Summarize(activities)
	w.selection = models.NewDefaultSelection(activities)
	w.batchID = ""
	w.batchStatus = nil
	w.fetchState = FetchSuccess

	w.logger.WithFields(logger.Fields{
		"activities": len(activities),
		"selected":   w.selection.Len(),
	}).Info("Wizard received activities")
}

// Activities returns the current activity list. Callers must treat the
// slice as read-only.
func (w *Wizard) Activities() []*models.ParsedActivity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activities
}

// OrgScope returns the source organisation metadata, if a registry fetch
// provided one.
func (w *Wizard) OrgScope() *models.OrgScope {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.orgScope
}

// ValidationSummary returns the validation rollup of the current list.
func (w *Wizard) ValidationSummary() models.ValidationSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.validation
}

// SetCriteria replaces the preview filter criteria.
func (w *Wizard) SetCriteria(c filter.Criteria) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.criteria = c
}

// FilteredActivities applies the current criteria to the activity list.
func (w *Wizard) FilteredActivities() []*models.ParsedActivity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return filter.Apply(w.activities, w.criteria)
}

// ToggleSelection flips one activity's selection and returns the new state.
func (w *Wizard) ToggleSelection(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selection.Toggle(id)
}

// SelectAll selects every activity currently passing the filter that has
// no validation errors.
func (w *Wizard) SelectAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range filter.Apply(w.activities, w.criteria) {
		if !a.HasErrors() {
			w.selection.Add(a.IATIIdentifier)
		}
	}
}

// DeselectAll clears the selection.
func (w *Wizard) DeselectAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selection = models.NewSelectionSet()
}

// SelectedIDs returns the selected identifiers.
func (w *Wizard) SelectedIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selection.IDs()
}

// SelectionCount returns the number of selected activities.
func (w *Wizard) SelectionCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selection.Len()
}

// Selection returns the live selection set. Callers on the import path use
// it to pick activities for submission.
func (w *Wizard) Selection() *models.SelectionSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selection
}

// SetRules replaces the import rules.
func (w *Wizard) SetRules(rules models.ImportRules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rules = rules
	return nil
}

// Rules returns the current import rules.
func (w *Wizard) Rules() models.ImportRules {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rules
}

// Impact recomputes the import impact from the current selection and rules.
func (w *Wizard) Impact() models.ImportImpact {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return impact.Compute(w.activities, w.selection, w.rules)
}

// SetBatch records a submitted batch.
func (w *Wizard) SetBatch(batchID string, status *models.BatchStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batchID = batchID
	w.batchStatus = status
}

// Batch returns the current batch id and status.
func (w *Wizard) Batch() (string, *models.BatchStatus) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.batchID, w.batchStatus
}

// Next advances to the following step if its guard holds. A failed guard
// leaves the wizard where it is and returns the reason.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepSource:
		if len(w.activities) == 0 {
			return fmt.Errorf("cannot leave source step: no activities loaded")
		}
		if w.fetchState != FetchSuccess || w.validation.Total != len(w.activities) {
			return fmt.Errorf("cannot leave source step: source metadata incomplete")
		}
	case StepPreview:
		if w.selection.Len() == 0 {
			return fmt.Errorf("cannot leave preview step: no activities selected")
		}
	case StepRules:
		// Rules always have valid defaults.
	case StepImport:
		if w.batchStatus == nil || !w.batchStatus.State.IsTerminal() {
			return fmt.Errorf("cannot leave import step: batch not finished")
		}
	case StepResults:
		return fmt.Errorf("already at the last step")
	}

	w.step = nextStep(w.step)
	w.logger.WithField("step", w.step).Debug("Wizard advanced")
	return nil
}

// Back returns to the previous step. Backward navigation is blocked at
// import and results; an in-flight import must be cancelled instead.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepSource:
		return fmt.Errorf("already at the first step")
	case StepImport, StepResults:
		return fmt.Errorf("cannot navigate back from %s: cancel the import instead", w.step)
	}

	w.step = prevStep(w.step)
	return nil
}

// CancelImport aborts an in-flight import, returning to the rules step and
// discarding the batch id and status.
func (w *Wizard) CancelImport() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step != StepImport {
		return fmt.Errorf("no import in progress")
	}
	w.step = StepRules
	w.batchID = ""
	w.batchStatus = nil
	w.logger.Info("Import cancelled, batch discarded")
	return nil
}

// Refresh resets the wizard to an empty source step, forcing a re-fetch.
// Rules keep their values; everything derived from the source is cleared.
func (w *Wizard) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.step = StepSource
	w.fetchState = FetchIdle
	w.activities = nil
	w.orgScope = nil
	w.validation = models.ValidationSummary{}
	w.selection = models.NewSelectionSet()
	w.criteria = filter.Criteria{}
	w.batchID = ""
	w.batchStatus = nil
	w.logger.Info("Wizard reset to source step")
}

func nextStep(s Step) Step {
	for i, step := range stepOrder {
		if step == s && i < len(stepOrder)-1 {
			return stepOrder[i+1]
		}
	}
	return s
}

func prevStep(s Step) Step {
	for i, step := range stepOrder {
		if step == s && i > 0 {
			return stepOrder[i-1]
		}
	}
	return s
}
