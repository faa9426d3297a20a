// Package registry fetches an organisation's published activities from the
// IATI registry gateway, with response caching, a debounced count preview,
// and a cosmetic progress simulator for long fetches.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	apperrors "iati-import-service/pkg/errors"
	"iati-import-service/pkg/logger"

	"iati-import-service/internal/models"
)

// Config holds settings for the registry client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	CacheTTL  time.Duration
	UserAgent string
}

// DefaultConfig returns the default registry client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:   "http://localhost:8000",
		Timeout:   120 * time.Second,
		CacheTTL:  10 * time.Minute,
		UserAgent: "iati-import-service",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "registry.base_url", c.BaseURL, nil)
	}
	if c.Timeout <= 0 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "registry.timeout", c.Timeout, nil)
	}
	if c.CacheTTL < 0 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "registry.cache_ttl", c.CacheTTL, nil)
	}
	return nil
}

// FetchParams describe one fetch or count request.
type FetchParams struct {
	OrganizationID    string
	Country           string
	CountryFilterMode string
	DateStart         string
	DateEnd           string
	Hierarchy         *int
	ForceRefresh      bool
}

func (p FetchParams) cacheKey() string {
	hierarchy := ""
	if p.Hierarchy != nil {
		hierarchy = strconv.Itoa(*p.Hierarchy)
	}
	return fmt.Sprintf("fetch|%s|%s|%s|%s|%s|%s",
		p.OrganizationID, p.Country, p.CountryFilterMode, p.DateStart, p.DateEnd, hierarchy)
}

func (p FetchParams) query(countOnly bool) url.Values {
	q := url.Values{}
	if p.OrganizationID != "" {
		q.Set("organization_id", p.OrganizationID)
	}
	if p.Country != "" {
		q.Set("country", p.Country)
	}
	if p.CountryFilterMode != "" {
		q.Set("country_filter_mode", p.CountryFilterMode)
	}
	if p.DateStart != "" {
		q.Set("date_start", p.DateStart)
	}
	if p.DateEnd != "" {
		q.Set("date_end", p.DateEnd)
	}
	if p.Hierarchy != nil {
		q.Set("hierarchy", strconv.Itoa(*p.Hierarchy))
	}
	if p.ForceRefresh {
		q.Set("force_refresh", "true")
	}
	if countOnly {
		q.Set("count_only", "true")
	}
	return q
}

// Client fetches organisation activities with an in-memory response cache.
type Client struct {
	config *Config
	http   *http.Client
	cache  *gocache.Cache
	logger logger.Logger
}

// NewClient creates a registry client. A nil config uses defaults.
func NewClient(config *Config, log logger.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		cache:  gocache.New(config.CacheTTL, 2*config.CacheTTL),
		logger: log.WithComponent("registry"),
	}, nil
}

type orgScopeResponse struct {
	ReportingOrgRef  string `json:"reportingOrgRef"`
	OrganizationName string `json:"organizationName"`
	OrganizationID   string `json:"organizationId"`
}

type fetchResponse struct {
	Activities []*models.ParsedActivity `json:"activities"`
	Total      int                      `json:"total"`
	FetchedAt  time.Time                `json:"fetchedAt"`
	Cached     bool                     `json:"cached"`
	OrgScope   *orgScopeResponse        `json:"orgScope"`
	Error      string                   `json:"error"`
}

type countResponse struct {
	Count            int     `json:"count"`
	EstimatedSeconds float64 `json:"estimatedSeconds"`
	Error            string  `json:"error"`
}

// FetchOrgActivities fetches all activities matching the params. Results
// are cached by parameter set unless ForceRefresh is set; a forced fetch
// replaces the cache entry.
func (c *Client) FetchOrgActivities(ctx context.Context, params FetchParams) (*models.FetchResult, error) {
	key := params.cacheKey()
	if !params.ForceRefresh {
		if entry, ok := c.cache.Get(key); ok {
			// Callers mark matches on the activities in place, so every
			// hit gets its own deep copy of the cached result.
			cached := entry.(*models.FetchResult).Clone()
			cached.Cached = true
			c.logger.WithField("organization", params.OrganizationID).Debug("Serving fetch from cache")
			return cached, nil
		}
	}

	var decoded fetchResponse
	if err := c.get(ctx, params.query(false), &decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, apperrors.FetchError(apperrors.CodeFetchRejected, params.OrganizationID,
			fmt.Errorf("%s", decoded.Error))
	}
	if len(decoded.Activities) == 0 {
		return nil, apperrors.FetchError(apperrors.CodeEmptyResult, params.OrganizationID, nil)
	}

	result := &models.FetchResult{
		Activities: decoded.Activities,
		Total:      decoded.Total,
		FetchedAt:  decoded.FetchedAt,
		Cached:     false,
	}
	if result.FetchedAt.IsZero() {
		result.FetchedAt = time.Now().UTC()
	}
	if decoded.OrgScope != nil {
		result.OrgScope = &models.OrgScope{
			OrganizationID: decoded.OrgScope.OrganizationID,
			Name:           decoded.OrgScope.OrganizationName,
			TotalPublished: decoded.Total,
		}
	}

	// The cache keeps its own copy so the caller's mutations cannot
	// poison later hits.
	c.cache.Set(key, result.Clone(), gocache.DefaultExpiration)
	c.logger.WithFields(logger.Fields{
		"organization": params.OrganizationID,
		"activities":   len(result.Activities),
	}).Info("Fetched organisation activities")
	return result, nil
}

// CountOrgActivities asks for the matching activity count without fetching
// full data. The estimate calibrates the fetch progress simulator.
func (c *Client) CountOrgActivities(ctx context.Context, params FetchParams) (*models.CountPreview, error) {
	var decoded countResponse
	if err := c.get(ctx, params.query(true), &decoded); err != nil {
		if importErr, ok := apperrors.AsImportError(err); ok && importErr.Category == apperrors.CategoryNetwork {
			return nil, err
		}
		return nil, apperrors.FetchError(apperrors.CodeCountFailed, params.OrganizationID, err)
	}
	if decoded.Error != "" {
		return nil, apperrors.FetchError(apperrors.CodeCountFailed, params.OrganizationID,
			fmt.Errorf("%s", decoded.Error))
	}
	return &models.CountPreview{
		Count:            decoded.Count,
		EstimatedSeconds: decoded.EstimatedSeconds,
	}, nil
}

// InvalidateCache drops all cached fetch results.
func (c *Client) InvalidateCache() {
	c.cache.Flush()
}

func (c *Client) get(ctx context.Context, query url.Values, out interface{}) error {
	endpoint := c.config.BaseURL + "/api/iati/fetch-org-activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return apperrors.InternalError(apperrors.CodeUnexpectedError, "building registry request", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NetworkError(apperrors.CodeConnectionFailed, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return apperrors.NetworkError(apperrors.CodeServiceUnavailable, endpoint, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.ParseError(apperrors.CodeDecodeFailed,
			fmt.Sprintf("registry response (status %d)", resp.StatusCode), err)
	}
	return nil
}
