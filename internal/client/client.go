// Package client talks to the feedback store HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

const (
	feedbackPath         = "/feedback"
	idempotencyKeyHeader = "Idempotency-Key"
	contentTypeJSON      = "application/json"
	maxErrorBodyBytes    = 4 * 1024
)

var (
	// ErrRequestFailed wraps every transport failure and non-success response.
	ErrRequestFailed = errors.New("client: request failed")
	// ErrMissingBaseURL indicates the store URL was not configured.
	ErrMissingBaseURL = errors.New("client: missing base url")
)

// StatusError carries a non-success response from the store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (statusError *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status %d: %s", statusError.StatusCode, statusError.Body)
}

// Unwrap lets errors.Is match ErrRequestFailed.
func (statusError *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// CreateResponse is the store's acknowledgement of a create.
type CreateResponse struct {
	Message  string         `json:"msg"`
	Feedback model.Feedback `json:"feedback"`
}

// Client issues requests against a feedback store.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New builds a Client for the store at baseURL. A zero timeout leaves requests unbounded.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingBaseURL, baseURL)
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// WithHTTPClient overrides the underlying HTTP client.
func (client *Client) WithHTTPClient(httpClient *http.Client) *Client {
	if httpClient != nil {
		client.httpClient = httpClient
	}
	return client
}

// Create submits a draft. The submission token is sent as the Idempotency-Key header when set.
func (client *Client) Create(ctx context.Context, draft validation.Draft, submissionToken string) (CreateResponse, error) {
	encoded, encodeErr := json.Marshal(draft)
	if encodeErr != nil {
		return CreateResponse{}, encodeErr
	}
	headers := map[string]string{"Content-Type": contentTypeJSON}
	if token := strings.TrimSpace(submissionToken); token != "" {
		headers[idempotencyKeyHeader] = token
	}

	var response CreateResponse
	if err := client.do(ctx, http.MethodPost, feedbackPath, bytes.NewReader(encoded), headers, &response); err != nil {
		return CreateResponse{}, err
	}
	return response, nil
}

// List fetches every stored record.
func (client *Client) List(ctx context.Context) ([]model.Feedback, error) {
	feedbacks := make([]model.Feedback, 0)
	if err := client.do(ctx, http.MethodGet, feedbackPath, nil, nil, &feedbacks); err != nil {
		return nil, err
	}
	return feedbacks, nil
}

// Delete removes the record with the given id.
func (client *Client) Delete(ctx context.Context, feedbackID string) error {
	return client.do(ctx, http.MethodDelete, feedbackPath+"/"+url.PathEscape(feedbackID), nil, nil, nil)
}

func (client *Client) do(ctx context.Context, method string, path string, body io.Reader, headers map[string]string, target any) error {
	endpoint := client.baseURL.JoinPath(path)
	request, requestErr := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if requestErr != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, requestErr)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	request.Header.Set("Accept", contentTypeJSON)

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, doErr)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		errorBody, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(errorBody))}
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(target); decodeErr != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRequestFailed, decodeErr)
	}
	return nil
}
