package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
)

// WebhookNotifier posts completion callbacks to the configured upstream
// URL. Best effort: callers log failures and move on.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookNotifier(cfg *config.Config) gateway.Notifier {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &WebhookNotifier{
		url:    cfg.Webhook.URL,
		secret: cfg.Webhook.Secret,
		client: &http.Client{Timeout: cfg.Webhook.Timeout},
	}
}

type completedPayload struct {
	CorrelationID string `json:"correlation_id"`
	HLSMasterURL  string `json:"hls_master_url"`
}

func (n *WebhookNotifier) NotifyCompleted(ctx context.Context, correlationID, hlsMasterURL string) error {
	if n.url == "" {
		return nil
	}
	body, err := json.Marshal(completedPayload{
		CorrelationID: correlationID,
		HLSMasterURL:  hlsMasterURL,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Webhook-Secret", n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	logger.Debug("Completion webhook delivered", map[string]interface{}{
		"correlation_id": correlationID,
	})
	return nil
}
