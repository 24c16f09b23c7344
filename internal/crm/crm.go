// Package crm integrates with the external CRM webhook: archiving finished
// conversations and requesting meeting slots for qualified leads. All calls
// are fire-and-forget from the agent's perspective; failures are logged and
// never block the conversation.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/store"
)

// Constants for CRM client configuration
const (
	// DefaultRequestTimeout bounds each webhook call.
	DefaultRequestTimeout = 10 * time.Second
)

// ArchivePayload is the JSON body posted to the CRM archive endpoint.
type ArchivePayload struct {
	ConversationKey string                      `json:"conversation_key"`
	Outcome         string                      `json:"outcome"`
	Profile         models.QualificationProfile `json:"profile"`
	ArchivedAt      time.Time                   `json:"archived_at"`
}

// SchedulingPayload is the JSON body posted to the CRM scheduling endpoint.
type SchedulingPayload struct {
	ConversationKey string                      `json:"conversation_key"`
	Profile         models.QualificationProfile `json:"profile"`
	RequestedAt     time.Time                   `json:"requested_at"`
}

// Opts holds configuration options for the CRM client.
type Opts struct {
	WebhookURL string
	Timeout    time.Duration
	Store      store.Store
	HTTPClient *http.Client
}

// Option defines a configuration option for the CRM client.
type Option func(*Opts)

// WithWebhookURL sets the CRM webhook base URL.
func WithWebhookURL(url string) Option {
	return func(o *Opts) { o.WebhookURL = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithStore sets the local store where archived conversations are also
// recorded, so the outcome survives even when the webhook is down.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithHTTPClient sets the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client posts archive and scheduling payloads to the CRM webhook.
type Client struct {
	webhookURL string
	httpClient *http.Client
	store      store.Store
}

// NewClient creates a CRM client. The webhook URL falls back to the
// CRM_WEBHOOK_URL environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("CRM_WEBHOOK_URL")
	}
	slog.Debug("CRM client config loaded", "WebhookURL_set", cfg.WebhookURL != "", "Store_set", cfg.Store != nil)
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("CRM webhook URL must be provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		webhookURL: cfg.WebhookURL,
		httpClient: httpClient,
		store:      cfg.Store,
	}, nil
}

// Archive records a finished conversation locally and posts it to the CRM
// webhook.
func (c *Client) Archive(ctx context.Context, profile *models.QualificationProfile, outcome string) error {
	now := time.Now()
	if c.store != nil {
		rec := models.ArchivedConversation{
			ConversationKey: profile.ConversationKey,
			Outcome:         outcome,
			Profile:         *profile,
			ArchivedAt:      now,
		}
		if history, err := c.store.GetHistory(profile.ConversationKey); err == nil {
			rec.Messages = history
		}
		if err := c.store.SaveArchivedConversation(rec); err != nil {
			slog.Error("CRM local archive failed", "key", profile.ConversationKey, "error", err)
		}
	}

	payload := ArchivePayload{
		ConversationKey: profile.ConversationKey,
		Outcome:         outcome,
		Profile:         *profile,
		ArchivedAt:      now,
	}
	if err := c.post(ctx, "/archive", payload); err != nil {
		return fmt.Errorf("failed to archive conversation %s: %w", profile.ConversationKey, err)
	}
	slog.Info("CRM conversation archived", "key", profile.ConversationKey, "outcome", outcome)
	return nil
}

// RequestScheduling asks the CRM to book a meeting slot for a qualified lead.
func (c *Client) RequestScheduling(ctx context.Context, profile *models.QualificationProfile) error {
	payload := SchedulingPayload{
		ConversationKey: profile.ConversationKey,
		Profile:         *profile,
		RequestedAt:     time.Now(),
	}
	if err := c.post(ctx, "/scheduling", payload); err != nil {
		return fmt.Errorf("failed to request scheduling for %s: %w", profile.ConversationKey, err)
	}
	slog.Info("CRM scheduling requested", "key", profile.ConversationKey)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopClient satisfies the CRM boundary for deployments without a webhook:
// outcomes are logged and, when a store is provided, recorded locally.
type NoopClient struct {
	store store.Store
}

// NewNoopClient creates a NoopClient writing to the given store (may be nil).
func NewNoopClient(s store.Store) *NoopClient {
	return &NoopClient{store: s}
}

func (c *NoopClient) Archive(ctx context.Context, profile *models.QualificationProfile, outcome string) error {
	slog.Info("CRM archive (noop)", "key", profile.ConversationKey, "outcome", outcome)
	if c.store == nil {
		return nil
	}
	return c.store.SaveArchivedConversation(models.ArchivedConversation{
		ConversationKey: profile.ConversationKey,
		Outcome:         outcome,
		Profile:         *profile,
		ArchivedAt:      time.Now(),
	})
}

func (c *NoopClient) RequestScheduling(ctx context.Context, profile *models.QualificationProfile) error {
	slog.Info("CRM scheduling request (noop)", "key", profile.ConversationKey)
	return nil
}
