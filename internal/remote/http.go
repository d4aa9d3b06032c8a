package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coachtools/matchsync/internal/model"
)

// HTTPStore talks JSON over HTTP to a CRUD backend:
//
//	POST   {base}/api/{kind}s           create, response {"id": ..., "entity": {...}}
//	PUT    {base}/api/{kind}s/{id}      update, response {"entity": {...}}
//	DELETE {base}/api/{kind}s/{id}      delete (404 means already gone)
//	GET    {base}/api/{kind}s           list, response {"entities": [...]}
//	PUT    {base}/api/timer-states/{id} timer state upsert
//	GET    {base}/api/health            reachability probe
//
// Status classification: 5xx and transport errors are transient, 4xx are
// permanent. Timeouts apply per call via the client's Timeout.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates an HTTP-backed Store. timeout bounds each call; zero
// means 15 seconds.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	ID     string          `json:"id"`
	Entity json.RawMessage `json:"entity"`
}

type updateResponse struct {
	Entity json.RawMessage `json:"entity"`
}

type listResponse struct {
	Entities []json.RawMessage `json:"entities"`
}

// Create implements Store.
func (s *HTTPStore) Create(ctx context.Context, kind model.Kind, payload json.RawMessage) (string, json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodPost, s.collectionURL(kind), payload, "create", kind)
	if err != nil {
		return "", nil, err
	}
	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, Transient("create", kind, fmt.Errorf("malformed response: %w", err))
	}
	if resp.ID == "" {
		return "", nil, Transient("create", kind, fmt.Errorf("response missing id"))
	}
	return resp.ID, resp.Entity, nil
}

// Update implements Store.
func (s *HTTPStore) Update(ctx context.Context, kind model.Kind, id string, payload json.RawMessage) (json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodPut, s.entityURL(kind, id), payload, "update", kind)
	if err != nil {
		return nil, err
	}
	var resp updateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Transient("update", kind, fmt.Errorf("malformed response: %w", err))
	}
	return resp.Entity, nil
}

// Delete implements Store. A 404 reports false without error: the entity is
// already gone, which is the outcome the mutation wanted.
func (s *HTTPStore) Delete(ctx context.Context, kind model.Kind, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.entityURL(kind, id), nil)
	if err != nil {
		return false, Permanent("delete", kind, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, Transient("delete", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, Transient("delete", kind, fmt.Errorf("backend returned %s", resp.Status))
	case resp.StatusCode >= 400:
		return false, Permanent("delete", kind, fmt.Errorf("backend returned %s", resp.Status))
	}
	return true, nil
}

// List implements Store.
func (s *HTTPStore) List(ctx context.Context, kind model.Kind) ([]json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodGet, s.collectionURL(kind), nil, "list", kind)
	if err != nil {
		return nil, err
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Transient("list", kind, fmt.Errorf("malformed response: %w", err))
	}
	return resp.Entities, nil
}

// PutTimerState implements Store.
func (s *HTTPStore) PutTimerState(ctx context.Context, ts model.TimerState) error {
	payload, err := json.Marshal(ts)
	if err != nil {
		return Permanent("put_timer", model.KindGame, err)
	}
	u := s.baseURL + "/api/timer-states/" + url.PathEscape(ts.GameID)
	_, err = s.do(ctx, http.MethodPut, u, payload, "put_timer", model.KindGame)
	return err
}

// Ping implements Store by hitting the backend's health endpoint.
func (s *HTTPStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/health", nil)
	if err != nil {
		return Permanent("ping", "", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Transient("ping", "", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Transient("ping", "", fmt.Errorf("health endpoint returned %s", resp.Status))
	}
	return nil
}

func (s *HTTPStore) collectionURL(kind model.Kind) string {
	return s.baseURL + "/api/" + url.PathEscape(string(kind)+"s")
}

func (s *HTTPStore) entityURL(kind model.Kind, id string) string {
	return s.collectionURL(kind) + "/" + url.PathEscape(id)
}

func (s *HTTPStore) do(ctx context.Context, method, u string, payload json.RawMessage, op string, kind model.Kind) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, Permanent(op, kind, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, Transient(op, kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(op, kind, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, Transient(op, kind, fmt.Errorf("backend returned %s", resp.Status))
	case resp.StatusCode >= 400:
		return nil, Permanent(op, kind, fmt.Errorf("backend returned %s: %s", resp.Status, truncate(data)))
	}
	return data, nil
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
