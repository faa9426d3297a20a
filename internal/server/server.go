// Package server exposes the import wizard over HTTP. Each session owns
// one wizard instance; clients drive it through the session routes.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "iati-import-service/pkg/errors"
	"iati-import-service/pkg/logger"

	"iati-import-service/internal/geography"
	"iati-import-service/internal/models"
	"iati-import-service/internal/registry"
	"iati-import-service/internal/report"
	"iati-import-service/internal/wizard"
)

// Parser submits raw XML for parsing.
type Parser interface {
	ParseXML(ctx context.Context, xmlContent string) ([]*models.ParsedActivity, error)
}

// Fetcher fetches and counts organisation activities.
type Fetcher interface {
	FetchOrgActivities(ctx context.Context, params registry.FetchParams) (*models.FetchResult, error)
	CountOrgActivities(ctx context.Context, params registry.FetchParams) (*models.CountPreview, error)
}

// BatchRunner submits a batch and polls it to completion.
type BatchRunner interface {
	Submit(ctx context.Context, activities []*models.ParsedActivity, selection *models.SelectionSet, rules models.ImportRules) (string, error)
	Poll(ctx context.Context, batchID string) (*models.BatchStatus, error)
	WaitForCompletion(ctx context.Context, batchID string) (*models.BatchStatus, error)
}

// Matcher marks parsed activities that already exist locally.
type Matcher interface {
	MarkMatches(ctx context.Context, activities []*models.ParsedActivity) (int, error)
}

// session pairs a wizard with its debounced count preview funnel.
type session struct {
	wizard *wizard.Wizard
	counts *countDebounce
}

// API wires the wizard sessions to their collaborators.
type API struct {
	parser  Parser
	fetcher Fetcher
	batches BatchRunner
	matcher Matcher
	logger  logger.Logger

	previewDelay time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewAPI creates the API. The matcher may be nil when no local activity
// store is configured; matching is skipped in that case.
func NewAPI(parser Parser, fetcher Fetcher, batches BatchRunner, matcher Matcher, log logger.Logger) *API {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &API{
		parser:       parser,
		fetcher:      fetcher,
		batches:      batches,
		matcher:      matcher,
		logger:       log.WithComponent("server"),
		previewDelay: registry.DefaultPreviewDelay,
		sessions:     make(map[string]*session),
	}
}

// SetPreviewDelay overrides the debounce delay applied to count previews.
// It must be called before any session is created.
func (a *API) SetPreviewDelay(d time.Duration) {
	a.previewDelay = d
}

// RegisterRoutes registers the wizard API routes with the given Gin router.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/import")

	api.POST("/sessions", a.createSessionHandler)

	sessionRoutes := api.Group("/sessions/:session_id")
	{
		sessionRoutes.GET("", a.getSessionHandler)
		sessionRoutes.POST("/source/parse", a.parseSourceHandler)
		sessionRoutes.POST("/source/fetch", a.fetchSourceHandler)
		sessionRoutes.GET("/source/count", a.countSourceHandler)
		sessionRoutes.GET("/preview", a.previewHandler)
		sessionRoutes.POST("/selection", a.selectionHandler)
		sessionRoutes.PUT("/rules", a.rulesHandler)
		sessionRoutes.GET("/impact", a.impactHandler)
		sessionRoutes.POST("/next", a.nextHandler)
		sessionRoutes.POST("/back", a.backHandler)
		sessionRoutes.POST("/cancel", a.cancelHandler)
		sessionRoutes.POST("/refresh", a.refreshHandler)
		sessionRoutes.POST("/import", a.importHandler)
		sessionRoutes.GET("/report.csv", a.reportHandler)
	}
}

func (a *API) createSessionHandler(c *gin.Context) {
	id := uuid.New().String()

	a.mu.Lock()
	a.sessions[id] = &session{
		wizard: wizard.New(a.logger),
		counts: newCountDebounce(a.fetcher, a.previewDelay),
	}
	a.mu.Unlock()

	a.logger.WithField("session_id", id).Info("Created wizard session")
	c.JSON(http.StatusCreated, gin.H{"sessionId": id, "step": wizard.StepSource})
}

func (a *API) sessionEntry(c *gin.Context) (*session, bool) {
	id := c.Param("session_id")
	a.mu.RLock()
	s, ok := a.sessions[id]
	a.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found: " + id})
		return nil, false
	}
	return s, true
}

func (a *API) session(c *gin.Context) (*wizard.Wizard, bool) {
	s, ok := a.sessionEntry(c)
	if !ok {
		return nil, false
	}
	return s.wizard, true
}

func (a *API) getSessionHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	batchID, batchStatus := w.Batch()
	c.JSON(http.StatusOK, gin.H{
		"step":        w.Step(),
		"fetchState":  w.FetchState(),
		"activities":  len(w.Activities()),
		"selected":    w.SelectionCount(),
		"validation":  w.ValidationSummary(),
		"orgScope":    w.OrgScope(),
		"rules":       w.Rules(),
		"batchId":     batchID,
		"batchStatus": batchStatus,
	})
}

func (a *API) parseSourceHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	var req struct {
		XMLContent string `json:"xmlContent" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	activities, err := a.parser.ParseXML(c.Request.Context(), req.XMLContent)
	if err != nil {
		a.renderError(c, err)
		return
	}

	a.markMatches(c, activities)
	w.SetActivities(activities, nil)
	c.JSON(http.StatusOK, gin.H{
		"activities": activities,
		"validation": w.ValidationSummary(),
	})
}

type fetchRequest struct {
	OrganizationID    string `json:"organizationId"`
	Country           string `json:"country"`
	CountryFilterMode string `json:"countryFilterMode"`
	DateStart         string `json:"dateStart"`
	DateEnd           string `json:"dateEnd"`
	Hierarchy         *int   `json:"hierarchy"`
	ForceRefresh      bool   `json:"forceRefresh"`
}

func (r fetchRequest) params() registry.FetchParams {
	return registry.FetchParams{
		OrganizationID:    r.OrganizationID,
		Country:           r.Country,
		CountryFilterMode: r.CountryFilterMode,
		DateStart:         r.DateStart,
		DateEnd:           r.DateEnd,
		Hierarchy:         r.Hierarchy,
		ForceRefresh:      r.ForceRefresh,
	}
}

func (a *API) fetchSourceHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	w.SetFetchState(wizard.FetchActive)
	result, err := a.fetcher.FetchOrgActivities(c.Request.Context(), req.params())
	if err != nil {
		// A client-cancelled fetch resets quietly to idle.
		if c.Request.Context().Err() != nil {
			w.SetFetchState(wizard.FetchIdle)
			return
		}
		w.SetFetchState(wizard.FetchFailed)
		a.renderError(c, err)
		return
	}

	a.markMatches(c, result.Activities)
	w.SetActivities(result.Activities, result.OrgScope)
	c.JSON(http.StatusOK, gin.H{
		"total":      result.Total,
		"cached":     result.Cached,
		"fetchedAt":  result.FetchedAt,
		"orgScope":   result.OrgScope,
		"validation": w.ValidationSummary(),
	})
}

func (a *API) countSourceHandler(c *gin.Context) {
	s, ok := a.sessionEntry(c)
	if !ok {
		return
	}

	var hierarchy *int
	if raw, err := intQuery(c, "hierarchy"); err == nil {
		hierarchy = raw
	}
	params := registry.FetchParams{
		OrganizationID:    c.Query("organization_id"),
		Country:           c.Query("country"),
		CountryFilterMode: c.Query("country_filter_mode"),
		DateStart:         c.Query("date_start"),
		DateEnd:           c.Query("date_end"),
		Hierarchy:         hierarchy,
	}

	// Rapid parameter edits from the same session collapse into one
	// registry call; every waiting request gets the surviving result.
	preview, err := s.counts.Count(c.Request.Context(), params)
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (a *API) previewHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	criteria, err := criteriaFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filters: " + err.Error()})
		return
	}
	w.SetCriteria(criteria)

	filtered := w.FilteredActivities()
	type previewRow struct {
		*models.ParsedActivity
		Scope    geography.Scope `json:"scope"`
		Selected bool            `json:"selected"`
	}
	rows := make([]previewRow, 0, len(filtered))
	selection := w.Selection()
	for _, activity := range filtered {
		rows = append(rows, previewRow{
			ParsedActivity: activity,
			Scope:          geography.Classify(activity, criteria.Country),
			Selected:       selection.Has(activity.IATIIdentifier),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"activities": rows,
		"total":      len(w.Activities()),
		"matching":   len(filtered),
		"selected":   w.SelectionCount(),
	})
}

func (a *API) selectionHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	var req struct {
		Action string `json:"action" binding:"required"`
		ID     string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	switch req.Action {
	case "toggle":
		if req.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "toggle requires an id"})
			return
		}
		selected := w.ToggleSelection(req.ID)
		c.JSON(http.StatusOK, gin.H{"id": req.ID, "selected": selected, "count": w.SelectionCount()})
	case "select_all":
		w.SelectAll()
		c.JSON(http.StatusOK, gin.H{"count": w.SelectionCount()})
	case "deselect_all":
		w.DeselectAll()
		c.JSON(http.StatusOK, gin.H{"count": w.SelectionCount()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown selection action: " + req.Action})
	}
}

func (a *API) rulesHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	var rules models.ImportRules
	if err := c.ShouldBindJSON(&rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if err := w.SetRules(rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": w.Rules(), "impact": w.Impact()})
}

func (a *API) impactHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, w.Impact())
}

func (a *API) nextHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}
	if err := w.Next(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "step": w.Step()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": w.Step()})
}

func (a *API) backHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}
	if err := w.Back(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "step": w.Step()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": w.Step()})
}

func (a *API) cancelHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}
	if err := w.CancelImport(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "step": w.Step()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": w.Step()})
}

func (a *API) refreshHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}
	w.Refresh()
	c.JSON(http.StatusOK, gin.H{"step": w.Step(), "fetchState": w.FetchState()})
}

func (a *API) importHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}
	if w.Step() != wizard.StepImport {
		c.JSON(http.StatusConflict, gin.H{"error": "Session is not at the import step", "step": w.Step()})
		return
	}

	batchID, err := a.batches.Submit(c.Request.Context(), w.Activities(), w.Selection(), w.Rules())
	if err != nil {
		a.renderError(c, err)
		return
	}
	w.SetBatch(batchID, nil)

	status, err := a.batches.WaitForCompletion(c.Request.Context(), batchID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	w.SetBatch(batchID, status)

	if err := w.Next(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "step": w.Step()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": w.Step(), "batchId": batchID, "status": status})
}

func (a *API) reportHandler(c *gin.Context) {
	w, ok := a.session(c)
	if !ok {
		return
	}

	batchID, status := w.Batch()
	if status == nil || !status.State.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "No finished batch to report on"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+report.ExportFilename(batchID)+`"`)
	if err := report.NewBuilder(status).WriteCSV(c.Writer); err != nil {
		a.logger.WithError(err).Error("Failed to stream CSV report")
	}
}

func (a *API) markMatches(c *gin.Context, activities []*models.ParsedActivity) {
	if a.matcher == nil {
		return
	}
	if _, err := a.matcher.MarkMatches(c.Request.Context(), activities); err != nil {
		a.logger.WithError(err).Warn("Activity matching failed, treating all as new")
	}
}

// renderError maps error categories to HTTP statuses, keeping the message
// intact for the client.
func (a *API) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if importErr, ok := apperrors.AsImportError(err); ok {
		switch importErr.Category {
		case apperrors.CategoryParse, apperrors.CategoryValidation:
			status = http.StatusBadRequest
		case apperrors.CategoryFetch:
			status = http.StatusBadGateway
		case apperrors.CategoryNetwork:
			status = http.StatusServiceUnavailable
		case apperrors.CategoryBatch:
			status = http.StatusBadGateway
		}
	}
	a.logger.WithError(err).Error("Request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
