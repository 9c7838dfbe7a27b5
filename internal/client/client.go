// Package client talks to the task API over HTTP. It satisfies the
// dashboard's PageFetcher and TaskUpdater so a grid can run outside the
// server process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofixpoint/fixpoint/internal/model"
)

const maxResponseBytes = 8 << 20

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	cookie *http.Cookie
}

type Options struct {
	BaseURL string
	// SessionCookie authenticates every request when set.
	SessionCookie *http.Cookie
	HTTPClient    *http.Client
	Timeout       time.Duration
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, http: hc, cookie: opts.SessionCookie}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return nil, apiErr
	}
	return data, nil
}

// FetchTasks returns the raw list payload so callers validate it themselves.
func (c *Client) FetchTasks(ctx context.Context, req model.ListTasksRequest) ([]byte, error) {
	q := url.Values{}
	if req.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(req.PageSize))
	}
	if req.PageCursor != nil && *req.PageCursor != "" {
		q.Set("pageCursor", *req.PageCursor)
	}
	return c.do(ctx, http.MethodGet, "/api/tasks", q, nil)
}

func (c *Client) UpdateTask(ctx context.Context, t model.Task) ([]byte, error) {
	return c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(string(t.ID)), nil, t)
}

func (c *Client) GetTask(ctx context.Context, id model.TaskID) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(string(id)), nil, nil)
}

// RequestOTP asks the server to issue a login code for email.
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/request-otp", nil, map[string]string{"email": email})
	return err
}

// VerifyOTP exchanges a code for a session and keeps the session cookie for
// later requests.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) error {
	b, err := json.Marshal(map[string]string{"email": email, "code": code})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/auth/verify-otp", nil), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	for _, ck := range resp.Cookies() {
		if ck.Value != "" {
			c.cookie = &http.Cookie{Name: ck.Name, Value: ck.Value}
			return nil
		}
	}
	return fmt.Errorf("verify otp: no session cookie in response")
}

// SessionCookie returns the cookie used to authenticate, if any.
func (c *Client) SessionCookie() *http.Cookie {
	if c.cookie == nil {
		return nil
	}
	ck := *c.cookie
	return &ck
}
