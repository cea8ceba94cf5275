package mediasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/version"
)

// retryAttempts is the total number of times a command POST is attempted,
// the first try included, before giving up. Any failed attempt is retried.
const retryAttempts = 3

// retryDelay is the base delay between retries; it doubles per attempt.
const retryDelay = 2 * time.Second

// httpClient is the Sonarr/Radarr command client.
type httpClient struct {
	serviceType models.ServiceType
	baseURL     string
	apiKey      string
	client      *http.Client
	logger      *slog.Logger
}

// NewClient creates a client for a configured service. An unconfigured
// service yields a NoopClient so callers need no nil checks.
func NewClient(serviceType models.ServiceType, cfg config.ServiceConfig, timeout time.Duration, logger *slog.Logger) Client {
	if !cfg.Enabled() {
		return &NoopClient{Type: serviceType}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &httpClient{
		serviceType: serviceType,
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With("component", "mediasvc", "service", string(serviceType)),
	}
}

// ServiceType implements Client.
func (c *httpClient) ServiceType() models.ServiceType {
	return c.serviceType
}

// Refresh implements Client by posting the service's rescan command.
func (c *httpClient) Refresh(ctx context.Context, serviceID string) error {
	name := "RescanMovie"
	idField := "movieId"
	if c.serviceType == models.ServiceTypeSonarr {
		name = "RescanSeries"
		idField = "seriesId"
	}
	return c.postCommand(ctx, name, idField, serviceID)
}

// Rename implements Client by posting the service's rename command.
func (c *httpClient) Rename(ctx context.Context, serviceID string) error {
	name := "RenameMovie"
	idField := "movieId"
	if c.serviceType == models.ServiceTypeSonarr {
		name = "RenameSeries"
		idField = "seriesId"
	}
	return c.postCommand(ctx, name, idField, serviceID)
}

// postCommand sends one command to the service's command endpoint, retrying
// transient failures with doubling backoff.
func (c *httpClient) postCommand(ctx context.Context, name, idField, serviceID string) error {
	body, err := json.Marshal(map[string]any{
		"name":  name,
		idField: serviceID,
	})
	if err != nil {
		return fmt.Errorf("encoding %s command: %w", name, err)
	}

	url := c.baseURL + "/api/v3/command"

	var lastErr error
	delay := retryDelay
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		lastErr = c.doPost(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("service command failed",
			slog.String("command", name),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("%s command failed after %d attempts: %w", name, retryAttempts, lastErr)
}

// doPost performs one command POST.
func (c *httpClient) doPost(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting command: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %s", resp.Status)
	}
	return nil
}
