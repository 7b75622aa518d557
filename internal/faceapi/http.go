package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	"go.uber.org/zap"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4096

// request describes one call to the service.
type request struct {
	operation  string
	method     string
	path       []string
	query      url.Values
	jsonBody   any
	rawBody    []byte // sent as application/octet-stream when set
	degradable bool   // part of the person group operations
}

// do sends req and returns the response body when the status is one of expected.
func (c *Client) do(ctx context.Context, req request, expected ...int) ([]byte, error) {
	if req.degradable && !c.SupportsIdentity() {
		return nil, ErrIdentificationUnavailable
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case req.rawBody != nil:
		bodyReader = bytes.NewReader(req.rawBody)
		contentType = "application/octet-stream"
	case req.jsonBody != nil:
		jsonBody, err := json.Marshal(req.jsonBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.resolveURL(req.query, req.path...), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // URL built from the configured endpoint
	if err != nil {
		c.metrics.ObserveRemote(req.operation, 0)
		return nil, fmt.Errorf("%s: could not send request: %w", req.operation, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRemote(req.operation, resp.StatusCode)

	if !slices.Contains(expected, resp.StatusCode) {
		rse := &RemoteServiceError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
		if req.degradable && resp.StatusCode == http.StatusForbidden {
			c.degrade(req.operation)
			return nil, fmt.Errorf("%w: %w", ErrIdentificationUnavailable, rse)
		}
		c.log.Debug("face API call failed", zap.String("operation", req.operation), zap.Int("status", rse.StatusCode))
		return nil, fmt.Errorf("%s: %w", req.operation, rse)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: could not read response body: %w", req.operation, err)
	}
	return body, nil
}

// doJSON performs req and unmarshals the JSON response into T.
func doJSON[T any](ctx context.Context, c *Client, req request, expected ...int) (*T, error) {
	body, err := c.do(ctx, req, expected...)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%s: could not unmarshal response: %w", req.operation, err)
	}
	return &result, nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}
