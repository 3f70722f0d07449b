package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/reelsmith/api/internal/logger"
)

// apiBase carries the request plumbing shared by the JSON API clients.
type apiBase struct {
	service    string
	httpClient *http.Client
	baseURL    string
	log        logger.Logger
	authorize  func(req *http.Request)
	// classify may refine the error kind of a failed response.
	classify func(e *APIError)
}

// post sends a POST request with JSON body
func (b *apiBase) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	raw, _, err := b.postRaw(ctx, endpoint, body)
	if err != nil {
		return err
	}
	return b.decode(endpoint, raw, result)
}

// get sends a GET request and parses JSON response
func (b *apiBase) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	raw, _, err := b.doRequest(req)
	if err != nil {
		return err
	}
	return b.decode(endpoint, raw, result)
}

// postRaw sends a JSON body and returns the raw response with its content type.
func (b *apiBase) postRaw(ctx context.Context, endpoint string, body interface{}) ([]byte, string, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return b.doRequest(req)
}

// doRequest executes an HTTP request and returns the body of a 2xx response.
func (b *apiBase) doRequest(req *http.Request) ([]byte, string, error) {
	if b.authorize != nil {
		b.authorize(req)
	}

	b.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msgf("[%s API] →", b.service)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.log.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msgf("[%s API] ✗ request failed", b.service)
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	b.log.Debug().
		Int("status", resp.StatusCode).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("bytes", len(respBody)).
		Msgf("[%s API] ←", b.service)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(b.service, resp.StatusCode, respBody)
		if b.classify != nil {
			b.classify(apiErr)
		}
		return nil, "", apiErr
	}

	return respBody, resp.Header.Get("Content-Type"), nil
}

func (b *apiBase) decode(endpoint string, raw []byte, result interface{}) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		b.log.Warn().Err(err).Str("endpoint", endpoint).Msgf("[%s API] ✗ unmarshal error", b.service)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
