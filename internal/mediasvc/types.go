// Package mediasvc defines the typed interface to the external media-library
// services (Sonarr for TV, Radarr for movies). The core consumes only the
// file-record shape and the refresh/rename commands; everything else those
// APIs offer stays outside.
package mediasvc

import (
	"context"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// FileRecord is the intake shape for one file known to a service. Parsed at
// the HTTP boundary; downstream code never touches raw JSON maps.
type FileRecord struct {
	ID             int64          `json:"id"`
	Path           string         `json:"path"`
	Size           int64          `json:"size"`
	DateAdded      time.Time      `json:"dateAdded"`
	SceneName      string         `json:"sceneName,omitempty"`
	OverallBitrate int64          `json:"overallBitrate,omitempty"`
	RunTime        string         `json:"runTime,omitempty"`
	MediaInfo      map[string]any `json:"mediaInfo,omitempty"`
}

// Client is the command surface the encoder's post-processing step needs
// from a media-library service.
type Client interface {
	// ServiceType identifies which service this client talks to.
	ServiceType() models.ServiceType
	// Refresh asks the service to rescan the file identified by serviceID.
	Refresh(ctx context.Context, serviceID string) error
	// Rename asks the service to apply its naming rules to the file.
	Rename(ctx context.Context, serviceID string) error
}

// NoopClient satisfies Client without talking to anything. Used when a
// service is not configured and in tests.
type NoopClient struct {
	Type models.ServiceType
}

// ServiceType implements Client.
func (c *NoopClient) ServiceType() models.ServiceType { return c.Type }

// Refresh implements Client.
func (c *NoopClient) Refresh(ctx context.Context, serviceID string) error { return nil }

// Rename implements Client.
func (c *NoopClient) Rename(ctx context.Context, serviceID string) error { return nil }
