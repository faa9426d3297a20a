// Package parseapi wraps the external IATI XML parsing endpoint.
package parseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "iati-import-service/pkg/errors"
	"iati-import-service/pkg/logger"

	"iati-import-service/internal/models"
)

// Config holds settings for the parse client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the default parse client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8000",
		Timeout: 60 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "parse.base_url", c.BaseURL, nil)
	}
	if c.Timeout <= 0 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "parse.timeout", c.Timeout, nil)
	}
	return nil
}

// Client calls the parse endpoint.
type Client struct {
	config *Config
	http   *http.Client
	logger logger.Logger
}

// NewClient creates a parse client. A nil config uses defaults.
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
		logger: log.WithComponent("parseapi"),
	}, nil
}

type parseRequest struct {
	XMLContent string `json:"xmlContent"`
}

type parseResponse struct {
	Activities []*models.ParsedActivity `json:"activities"`
	Error      string                   `json:"error"`
}

// ParseXML submits raw IATI XML and returns the parsed activities. A
// non-2xx response surfaces the server's error message verbatim. A 2xx
// response with zero activities is treated as an error because the wizard
// cannot proceed without data.
func (c *Client) ParseXML(ctx context.Context, xmlContent string) ([]*models.ParsedActivity, error) {
	if xmlContent == "" {
		return nil, apperrors.ParseError(apperrors.CodeInvalidXML, "empty XML content", nil)
	}

	body, err := json.Marshal(parseRequest{XMLContent: xmlContent})
	if err != nil {
		return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "encoding parse request", err)
	}

	url := c.config.BaseURL + "/api/iati/parse"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "building parse request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithField("bytes", len(xmlContent)).Debug("Submitting XML for parsing")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError(apperrors.CodeConnectionFailed, url, err)
	}
	defer resp.Body.Close()

	var decoded parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.ParseError(apperrors.CodeDecodeFailed,
			fmt.Sprintf("unreadable response (status %d)", resp.StatusCode), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := decoded.Error
		if message == "" {
			message = fmt.Sprintf("parse failed with status %d", resp.StatusCode)
		}
		return nil, apperrors.ParseError(apperrors.CodeInvalidXML, message, nil)
	}

	if len(decoded.Activities) == 0 {
		return nil, apperrors.ParseError(apperrors.CodeNoActivities, "document contains no activities", nil).
			WithSuggestion("Check that the file is a valid IATI activities document")
	}

	c.logger.WithField("activities", len(decoded.Activities)).Info("Parsed XML document")
	return decoded.Activities, nil
}
