package propagation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/telemetry/tracing"
)

// HTTPTransport pushes policies to service agents over HTTP. Each push is a
// POST of a JSON Message to {BaseURL}/v1/services/{service_id}/policies.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewHTTPTransport creates an HTTP transport. A zero timeout leaves the
// deadline to the push context.
func NewHTTPTransport(baseURL string, timeout time.Duration, headers map[string]string) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid propagation base url %q", baseURL)
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}, nil
}

// Name returns "http".
func (t *HTTPTransport) Name() string { return "http" }

// Push posts the policy to the service agent. Any non-2xx response is an error.
func (t *HTTPTransport) Push(ctx context.Context, b policy.ServicePolicyBinding, p *policy.Policy) error {
	body, err := encodeMessage(b, p)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}

	endpoint := t.baseURL + "/v1/services/" + url.PathEscape(b.ServiceID) + "/policies"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bastion-propagator")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return wrapTimeout(fmt.Errorf("push to %s: %w", b.ServiceID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: push to %s: status %d: %s",
			policy.ErrPropagationFailed, b.ServiceID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Withdraw deletes a policy from the service agent. A 404 counts as success.
func (t *HTTPTransport) Withdraw(ctx context.Context, serviceID, policyID string) error {
	endpoint := t.baseURL + "/v1/services/" + url.PathEscape(serviceID) + "/policies/" + url.PathEscape(policyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create withdraw request: %w", err)
	}
	req.Header.Set("User-Agent", "bastion-propagator")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return wrapTimeout(fmt.Errorf("withdraw from %s: %w", serviceID, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("%w: withdraw from %s: status %d", policy.ErrPropagationFailed, serviceID, resp.StatusCode)
}
