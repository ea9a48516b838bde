package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/timberline/fleetsync/internal/errors"
)

// HTTPClient talks JSON over HTTP to the hosted fleet service.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the service at baseURL. A zero
// timeout defaults to 30 seconds.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, kind string, payload json.RawMessage) (*Entity, error) {
	body, err := c.do(ctx, http.MethodPost, c.collectionURL(kind, ""), "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	return decodeEntity(body)
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, kind string, query url.Values) ([]Entity, error) {
	u := c.collectionURL(kind, "")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode list response", err)
	}

	entities := make([]Entity, 0, len(raw.Items))
	for _, item := range raw.Items {
		e, err := decodeEntity(item)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, nil
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, kind, id string, partial json.RawMessage) (*Entity, error) {
	body, err := c.do(ctx, http.MethodPatch, c.collectionURL(kind, id), "application/json", bytes.NewReader(partial))
	if err != nil {
		return nil, err
	}
	return decodeEntity(body)
}

// Upload implements Client.
func (c *HTTPClient) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to build upload form", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to build upload form", err)
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to build upload form", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/files", writer.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to decode upload response", err)
	}
	return resp.URL, nil
}

// Ping implements Client.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/health", "", nil)
	return err
}

func (c *HTTPClient) collectionURL(kind, id string) string {
	u := fmt.Sprintf("%s/api/collections/%s/records", c.baseURL, url.PathEscape(kind))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

// do executes one request and classifies failures into the agent's error
// taxonomy.
func (c *HTTPClient) do(ctx context.Context, method, u, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, fmt.Sprintf("%s %s failed", method, u), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.New(apperrors.ErrAuthFailed, fmt.Sprintf("remote returned %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, apperrors.New(apperrors.ErrRemoteRejected,
			fmt.Sprintf("remote rejected request with %d: %s", resp.StatusCode, truncate(data, 200)))
	default:
		// 5xx is treated like a transport failure: retry later.
		return nil, apperrors.New(apperrors.ErrNetwork, fmt.Sprintf("remote returned %d", resp.StatusCode))
	}
}

func decodeEntity(data []byte) (*Entity, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode entity", err)
	}
	return &Entity{ID: probe.ID, Data: json.RawMessage(data)}, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "…"
}
