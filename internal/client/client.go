// Package client is a typed HTTP client for the sales API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"sales-dashboard/internal/auth"
	"sales-dashboard/internal/dataset"
	"sales-dashboard/internal/models"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
	dateLayout     = "2006-01-02"
)

// APIError is a non-2xx response. Code and Message come from the server's
// error envelope when present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func IsExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "TOKEN_EXPIRED"
}

type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"user"`
}

type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a token. The token is not stored on the
// client; callers decide whether to keep it.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var resp LoginResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, false, &resp); err != nil {
		return LoginResponse{}, err
	}
	if resp.AccessToken == "" {
		return LoginResponse{}, errors.New("login response carried no token")
	}
	return resp, nil
}

// Verify checks the current token with the server and returns its user.
func (c *Client) Verify(ctx context.Context) (models.User, error) {
	var resp struct {
		Valid bool        `json:"valid"`
		User  auth.Claims `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/verify", nil, nil, true, &resp); err != nil {
		return models.User{}, err
	}
	if !resp.Valid {
		return models.User{}, &APIError{Status: http.StatusUnauthorized, Message: "Invalid token"}
	}
	return resp.User.User(), nil
}

// Logout tells the server the session ended. Tokens are stateless, so this
// only matters for server-side logging.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/auth/logout", nil, nil, true, nil)
}

func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.do(ctx, http.MethodGet, "/auth/profile", nil, nil, true, &user)
	return user, err
}

func (c *Client) Query(ctx context.Context, spec models.QuerySpec) (models.QueryResult, error) {
	var result models.QueryResult
	if err := c.do(ctx, http.MethodGet, "/sales", EncodeQuerySpec(spec), nil, true, &result); err != nil {
		return models.QueryResult{}, err
	}
	for i := range result.Data {
		if day, err := dataset.ParseDate(result.Data[i].OrderDate); err == nil {
			result.Data[i].OrderedAt = day
		}
	}
	return result, nil
}

func (c *Client) Summary(ctx context.Context) (models.SummaryView, error) {
	var summary models.SummaryView
	err := c.do(ctx, http.MethodGet, "/sales/summary", nil, nil, true, &summary)
	return summary, err
}

func (c *Client) ByRegion(ctx context.Context) ([]models.GroupRollup, error) {
	return c.rollup(ctx, "/sales/by-region", models.GroupByRegion)
}

func (c *Client) ByItemType(ctx context.Context) ([]models.GroupRollup, error) {
	return c.rollup(ctx, "/sales/by-item-type", models.GroupByItemType)
}

func (c *Client) rollup(ctx context.Context, path string, by models.GroupBy) ([]models.GroupRollup, error) {
	var groups []models.GroupRollup
	if err := c.do(ctx, http.MethodGet, path, nil, nil, true, &groups); err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].GroupBy = by
	}
	return groups, nil
}

// EncodeQuerySpec renders spec as /sales query parameters. Unset fields are
// omitted.
func EncodeQuerySpec(spec models.QuerySpec) url.Values {
	values := url.Values{}
	set := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	set("region", spec.Region)
	set("country", spec.Country)
	set("itemType", spec.ItemType)
	set("salesChannel", spec.SalesChannel)
	set("orderPriority", spec.OrderPriority)
	if spec.StartDate != nil {
		values.Set("startDate", spec.StartDate.Format(dateLayout))
	}
	if spec.EndDate != nil {
		values.Set("endDate", spec.EndDate.Format(dateLayout))
	}
	if spec.Limit != nil {
		values.Set("limit", strconv.Itoa(*spec.Limit))
	}
	if spec.Offset > 0 {
		values.Set("offset", strconv.Itoa(spec.Offset))
	}
	return values
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, authed bool, out any) error {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}

	if gjson.ValidBytes(data) {
		parsed := gjson.ParseBytes(data)
		apiErr.Code = parsed.Get("error.code").String()
		apiErr.Message = parsed.Get("error.message").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
