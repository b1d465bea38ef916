package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// WebhookNotifier posts receipts as JSON to a URL.
type WebhookNotifier struct {
	httpClient *retryablehttp.Client
	url        string
	logger     log.Logger
}

// NewWebhookNotifier ...
func NewWebhookNotifier(url string, logger log.Logger) (*WebhookNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is empty")
	}

	client := retryhttp.NewClient(logger)
	client.CheckRetry = createCustomRetryFunction(logger)

	return newWebhookNotifier(client, url, logger), nil
}

func newWebhookNotifier(client *retryablehttp.Client, url string, logger log.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Notify ...
func (n *WebhookNotifier) Notify(ctx context.Context, receipt Receipt) error {
	body, err := json.Marshal(receipt)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			n.logger.Printf("%s", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	n.logger.Debugf("Receipt of archive %s posted to webhook", receipt.ArchiveID)
	return nil
}
