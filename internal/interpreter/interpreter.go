// Package interpreter isolates the slow-path external interpreter behind a
// single-method adapter boundary (spec §9 Design Note "Suspended
// conversational handlers → adapter boundary"). Inside the dispatcher the
// interpreter is just another handler; its identity, transport, and latency
// are implementation details of whichever Adapter is wired in.
package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
)

// ErrNotConfigured is returned by a nil-safe Adapter when no slow-path
// interpreter is wired in. The WebSocket connection handler turns it into a
// failed action_response with the `not_implemented` code (spec §6.2).
var ErrNotConfigured = errors.New("interpreter: no adapter configured")

// Unconfigured implements dispatch.Adapter as the zero-value case when no
// external interpreter is wired in (e.g. local development, or an
// experience with no slow-path actions registered). It always fails fast
// rather than hanging.
type Unconfigured struct{}

func (Unconfigured) Resolve(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	return dispatch.Result{}, ErrNotConfigured
}

// HTTPAdapter resolves slow-path actions against an external interpreter
// service over HTTP, per spec §4.5 routing rule 3 and §6.5 (the core only
// ever calls out to external services through narrow, read/resolve-shaped
// interfaces). The outbound transport is otelhttp-wrapped so the span
// started by the dispatcher continues across the network hop, matching
// the otelhttp.NewHandler wrapping _examples/AltairaLabs-PromptKit/server/a2a/server.go applies
// on the inbound side.
type HTTPAdapter struct {
	client  *http.Client
	baseURL string
}

// NewHTTPAdapter constructs an HTTPAdapter posting requests to baseURL.
// timeout bounds a single Resolve call; the dispatcher's own ctx deadline
// (spec §5 "external deadline of tens of seconds") still applies on top.
func NewHTTPAdapter(baseURL string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type httpAdapterRequest struct {
	Experience string         `json:"experience"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	Fields     map[string]any `json:"fields"`
}

// Resolve posts req to the configured interpreter endpoint and decodes its
// response as a dispatch.Result. Any transport or decode failure surfaces
// as a Go error, which the dispatcher's caller converts to a
// "processing_error" (spec §7 kind 7: "the dispatcher passes these through
// unchanged" refers to a well-formed Result with success:false; a transport
// failure is not that and is reported separately).
func (a *HTTPAdapter) Resolve(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	body, err := json.Marshal(httpAdapterRequest{
		Experience: req.Experience,
		UserID:     req.UserID,
		Action:     req.Action,
		Fields:     req.Fields,
	})
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("interpreter: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("interpreter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("interpreter: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dispatch.Result{}, fmt.Errorf("interpreter: unexpected status %d", resp.StatusCode)
	}

	var result dispatch.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dispatch.Result{}, fmt.Errorf("interpreter: decode response: %w", err)
	}
	return result, nil
}
