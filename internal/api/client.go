package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetpulse/core/internal/models"
)

// FetchError is a transport or protocol failure talking to the hub. It is
// distinguished from ParseError and ConnectionError so callers can decide
// between retry and display without string matching.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the hub's REST API. Every call except Login and Register
// sends the bearer token acquired at login.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

// envelope is the hub's uniform response wrapper. Subscription listings use
// the servers field, everything else uses data.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Servers json.RawMessage `json:"servers,omitempty"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Session struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	var sess Session
	if err := c.call(ctx, http.MethodPost, "/login", nil, creds, &sess); err != nil {
		return Session{}, err
	}
	c.token = sess.Token
	return sess, nil
}

func (c *Client) Register(ctx context.Context, creds Credentials) error {
	return c.call(ctx, http.MethodPost, "/register", nil, creds, nil)
}

func (c *Client) Servers(ctx context.Context) ([]models.ServerIdentity, error) {
	var servers []models.ServerIdentity
	if err := c.call(ctx, http.MethodGet, "/servers", nil, nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func (c *Client) Subscriptions(ctx context.Context, userID int64) ([]models.Subscription, error) {
	q := url.Values{}
	q.Set("user_id", fmt.Sprintf("%d", userID))

	var subs []models.Subscription
	if err := c.call(ctx, http.MethodGet, "/subscriptions", q, nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *Client) Subscribe(ctx context.Context, sub models.Subscription) error {
	return c.call(ctx, http.MethodPost, "/subscriptions", nil, sub, nil)
}

func (c *Client) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	path := fmt.Sprintf("/subscriptions/%d", sub.ID)
	return c.call(ctx, http.MethodPut, path, nil, sub, nil)
}

func (c *Client) Unsubscribe(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/subscriptions/%d", id)
	return c.call(ctx, http.MethodDelete, path, nil, nil, nil)
}

// PerformanceData fetches the samples for one server in [start, end]. Times
// are sent in the hub's wire format.
func (c *Client) PerformanceData(ctx context.Context, serverID int64, start, end time.Time) ([]models.MetricSample, error) {
	q := url.Values{}
	q.Set("server_id", fmt.Sprintf("%d", serverID))
	q.Set("start_time", models.FormatTimestamp(start))
	q.Set("end_time", models.FormatTimestamp(end))

	var samples []models.MetricSample
	if err := c.call(ctx, http.MethodGet, "/performance-data", q, nil, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// Alerts fetches the alert records for one server in [start, end].
func (c *Client) Alerts(ctx context.Context, serverID int64, start, end time.Time) ([]models.AlertRecord, error) {
	q := url.Values{}
	q.Set("server_id", fmt.Sprintf("%d", serverID))
	q.Set("start_time", models.FormatTimestamp(start))
	q.Set("end_time", models.FormatTimestamp(end))

	var alerts []models.AlertRecord
	if err := c.call(ctx, http.MethodGet, "/alerts", q, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	op := method + " " + path

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &FetchError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &FetchError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", bytes.TrimSpace(raw)),
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !env.Status {
		return &FetchError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", env.Message)}
	}
	if out == nil {
		return nil
	}

	payload := env.Data
	if len(payload) == 0 {
		payload = env.Servers
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("decode payload: %w", err)}
	}
	return nil
}
