// internal/infra/channel/http_gateway.go
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainChannel "outreach_cadence_engine/internal/domain/channel"
)

// HTTPGatewayClient delivers actions through the external delivery gateway
// that fronts the sms/email/call-task providers. One POST per action to
// {base}/send/{actionType}; the gateway acknowledges with a provider
// reference. The call is synchronous; the dispatcher bounds it with its own
// per-send context timeout on top of the client timeout here.
type HTTPGatewayClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGatewayClient(baseURL string, timeout time.Duration) *HTTPGatewayClient {
	return &HTTPGatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type sendResponse struct {
	ProviderRef string `json:"provider_ref"`
}

func (c *HTTPGatewayClient) Send(ctx context.Context, req domainChannel.Request) (domainChannel.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domainChannel.Result{}, fmt.Errorf("failed to encode dispatch request: %w", err)
	}

	url := fmt.Sprintf("%s/send/%s", c.baseURL, req.ActionType)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domainChannel.Result{}, fmt.Errorf("failed to build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domainChannel.Result{}, fmt.Errorf("delivery gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domainChannel.Result{}, fmt.Errorf("delivery gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var ack sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return domainChannel.Result{}, fmt.Errorf("failed to decode delivery gateway response: %w", err)
	}
	return domainChannel.Result{ProviderRef: ack.ProviderRef}, nil
}
