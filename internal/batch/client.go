// Package batch submits selected activities to the external import
// executor and polls the resulting batch to a terminal state.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "iati-import-service/pkg/errors"
	"iati-import-service/pkg/logger"

	"iati-import-service/internal/models"
)

// Config holds settings for the batch client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultConfig returns the default batch client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "http://localhost:8000",
		Timeout:      30 * time.Second,
		PollInterval: 2 * time.Second,
		PollTimeout:  30 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "batch.base_url", c.BaseURL, nil)
	}
	if c.PollInterval <= 0 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "batch.poll_interval", c.PollInterval, nil)
	}
	if c.PollTimeout <= 0 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "batch.poll_timeout", c.PollTimeout, nil)
	}
	return nil
}

// Client talks to the batch execution collaborator.
type Client struct {
	config *Config
	http   *http.Client
	logger logger.Logger
}

// NewClient creates a batch client. A nil config uses defaults.
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
		logger: log.WithComponent("batch"),
	}, nil
}

type submitRequest struct {
	IdempotencyKey string                   `json:"idempotencyKey"`
	Activities     []*models.ParsedActivity `json:"activities"`
	Rules          models.ImportRules       `json:"rules"`
}

type submitResponse struct {
	BatchID string `json:"batchId"`
	Error   string `json:"error"`
}

// Submit sends the selected activities and rules to the executor and
// returns the new batch id. Each submission carries a client-generated
// idempotency key so a retried request cannot start a second batch.
func (c *Client) Submit(ctx context.Context, activities []*models.ParsedActivity, selection *models.SelectionSet, rules models.ImportRules) (string, error) {
	if err := rules.Validate(); err != nil {
		return "", apperrors.ValidationError(apperrors.CodeInvalidRule, "rules", rules, err)
	}

	var selected []*models.ParsedActivity
	for _, a := range activities {
		if selection != nil && selection.Has(a.IATIIdentifier) {
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 {
		return "", apperrors.BatchError(apperrors.CodeBatchRejected, "",
			fmt.Errorf("no activities selected"))
	}

	body, err := json.Marshal(submitRequest{
		IdempotencyKey: uuid.New().String(),
		Activities:     selected,
		Rules:          rules,
	})
	if err != nil {
		return "", apperrors.InternalError(apperrors.CodeUnexpectedError, "encoding batch submission", err)
	}

	url := c.config.BaseURL + "/api/iati/import-batches"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.InternalError(apperrors.CodeUnexpectedError, "building batch submission", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.NetworkError(apperrors.CodeConnectionFailed, url, err)
	}
	defer resp.Body.Close()

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperrors.BatchError(apperrors.CodeSubmitFailed, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, decoded.Error)
		return "", apperrors.BatchError(apperrors.CodeSubmitFailed, "", cause)
	}
	if decoded.BatchID == "" {
		return "", apperrors.BatchError(apperrors.CodeSubmitFailed, "",
			fmt.Errorf("executor returned no batch id"))
	}

	c.logger.WithFields(logger.Fields{
		"batch_id":   decoded.BatchID,
		"activities": len(selected),
	}).Info("Submitted import batch")
	return decoded.BatchID, nil
}

// Poll fetches the current status of a batch.
func (c *Client) Poll(ctx context.Context, batchID string) (*models.BatchStatus, error) {
	url := c.config.BaseURL + "/api/iati/import-batches/" + batchID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "building batch poll", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError(apperrors.CodeConnectionFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.BatchError(apperrors.CodePollFailed, batchID,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var status models.BatchStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, apperrors.BatchError(apperrors.CodePollFailed, batchID, err)
	}
	return &status, nil
}

// WaitForCompletion polls until the batch reaches a terminal state and
// returns its final status. Terminal statuses whose counts do not add up
// to the total are rejected.
func (c *Client) WaitForCompletion(ctx context.Context, batchID string) (*models.BatchStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.Poll(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if status.State.IsTerminal() {
			if err := status.Validate(); err != nil {
				return nil, apperrors.BatchError(apperrors.CodeCountMismatch, batchID, err)
			}
			c.logger.WithFields(logger.Fields{
				"batch_id": batchID,
				"state":    status.State,
				"created":  status.Created,
				"updated":  status.Updated,
				"skipped":  status.Skipped,
				"failed":   status.Failed,
			}).Info("Import batch finished")
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.BatchError(apperrors.CodePollFailed, batchID, ctx.Err()).
				WithSuggestion("the batch may still finish server-side; poll again later")
		case <-ticker.C:
		}
	}
}
