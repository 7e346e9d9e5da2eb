// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gerrit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/metrics"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/telemetry"
)

const tracerName = "composer-patches.gerrit"

// xssiPrefix precedes every JSON body Gerrit returns.
const xssiPrefix = ")]}'"

// CurrentRevision selects the latest patch set of a change.
const CurrentRevision = -1

var (
	// ErrUnexpectedResponse reports a transport failure or non-200 status.
	ErrUnexpectedResponse = errors.New("gerrit: unexpected response")

	// ErrInvalidResponse reports a body that could not be decoded.
	ErrInvalidResponse = errors.New("gerrit: invalid response")

	// ErrUnexpectedValue reports a decoded body missing a required value.
	ErrUnexpectedValue = errors.New("gerrit: unexpected value")
)

// Endpoint labels used in metrics and spans.
const (
	endpointChange     = "change"
	endpointPatch      = "patch"
	endpointIncludedIn = "included_in"
)

// IncludedIn lists where a merged change has landed.
type IncludedIn struct {
	Branches []string `json:"branches"`
	Tags     []string `json:"tags"`
}

// ChangeInfo is the subset of Gerrit's ChangeInfo entity this client reads.
type ChangeInfo struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	Branch  string `json:"branch"`
	Subject string `json:"subject"`
	Number  int    `json:"_number"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the Gerrit root, e.g. https://gerrit.example.org/r.
	BaseURL string

	// Username enables authenticated requests when non-empty.
	Username string

	// Password is sealed into an enclave by NewClient when Username is set,
	// wiping the slice.
	Password []byte

	// Timeout bounds one HTTP request. Zero means no timeout.
	Timeout time.Duration

	// RequestsPerSecond limits request rate. Zero or less is unlimited.
	RequestsPerSecond float64

	// UserAgent is sent with every request.
	UserAgent string
}

// Client talks to one Gerrit server.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	username string
	password *memguard.Enclave
	auth     bool
	prefix   string
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu      sync.Mutex
	changes map[string]ChangeInfo
}

// NewClient builds a Client.
//
// # Inputs
//
//   - cfg: server settings. BaseURL is required.
//   - logger: receives debug traces of each request. Nil uses slog.Default.
//   - recorder: request counters. Nil disables.
//
// # Outputs
//
//   - *Client: ready to use.
//   - error: when BaseURL is empty.
func NewClient(cfg Config, logger *slog.Logger, recorder metrics.Recorder) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gerrit: base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoOp{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "composer-patches"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetLogger(restyLogger{logger: logger})

	c := &Client{
		http:     httpClient,
		limiter:  limiter,
		username: cfg.Username,
		logger:   logger,
		metrics:  recorder,
		changes:  make(map[string]ChangeInfo),
	}
	if cfg.Username != "" {
		c.auth = true
		c.prefix = "/a"
		if len(cfg.Password) > 0 {
			c.password = memguard.NewEnclave(cfg.Password)
		}
	}
	return c, nil
}

// Change fetches the change entity. Results are cached per change id for
// the lifetime of the client.
func (c *Client) Change(ctx context.Context, changeID string) (ChangeInfo, error) {
	c.mu.Lock()
	cached, ok := c.changes[changeID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	body, err := c.get(ctx, endpointChange, "/changes/{id}", map[string]string{"id": changeID})
	if err != nil {
		return ChangeInfo{}, err
	}
	var info ChangeInfo
	if err := decodeJSON(body, &info); err != nil {
		return ChangeInfo{}, fmt.Errorf("change %s: %w", changeID, err)
	}

	c.mu.Lock()
	c.changes[changeID] = info
	c.mu.Unlock()
	return info, nil
}

// Subject returns the change's subject line.
func (c *Client) Subject(ctx context.Context, changeID string) (string, error) {
	info, err := c.Change(ctx, changeID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(info.Subject) == "" {
		return "", fmt.Errorf("%w: change %s has no subject", ErrUnexpectedValue, changeID)
	}
	return info.Subject, nil
}

// NumericID returns the change's server-assigned number.
func (c *Client) NumericID(ctx context.Context, changeID string) (int, error) {
	info, err := c.Change(ctx, changeID)
	if err != nil {
		return 0, err
	}
	if info.Number <= 0 {
		return 0, fmt.Errorf("%w: change %s has no _number", ErrUnexpectedValue, changeID)
	}
	return info.Number, nil
}

// Patch returns the unified diff of one revision. revision is a patch set
// number or CurrentRevision.
func (c *Client) Patch(ctx context.Context, changeID string, revision int) ([]byte, error) {
	rev := "current"
	if revision != CurrentRevision {
		rev = strconv.Itoa(revision)
	}
	body, err := c.get(ctx, endpointPatch, "/changes/{id}/revisions/{rev}/patch",
		map[string]string{"id": changeID, "rev": rev})
	if err != nil {
		return nil, err
	}
	diff, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: change %s revision %s: %v", ErrInvalidResponse, changeID, rev, err)
	}
	return diff, nil
}

// IncludedIn returns the branches and tags that contain a merged change.
func (c *Client) IncludedIn(ctx context.Context, numericID int) (IncludedIn, error) {
	id := strconv.Itoa(numericID)
	body, err := c.get(ctx, endpointIncludedIn, "/changes/{id}/in", map[string]string{"id": id})
	if err != nil {
		return IncludedIn{}, err
	}
	var in IncludedIn
	if err := decodeJSON(body, &in); err != nil {
		return IncludedIn{}, fmt.Errorf("included-in %s: %w", id, err)
	}
	return in, nil
}

// get performs one rate-limited GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, endpoint, path string, params map[string]string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Client."+endpoint,
		trace.WithAttributes(attribute.String("gerrit.path", path)),
	)
	defer span.End()

	body, err := c.do(ctx, path, params)
	if err != nil {
		c.metrics.ReviewRequest(endpoint, metrics.OutcomeError)
		telemetry.RecordError(span, err)
		return nil, err
	}
	c.metrics.ReviewRequest(endpoint, metrics.OutcomeOK)
	telemetry.SetSpanOK(span)
	return body, nil
}

func (c *Client) do(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", ErrUnexpectedResponse, err)
	}

	req := c.http.R().SetContext(ctx).SetPathParams(params)
	if c.auth {
		password := ""
		if c.password != nil {
			secret, err := c.password.Open()
			if err != nil {
				return nil, fmt.Errorf("gerrit: open credentials: %w", err)
			}
			defer secret.Destroy()
			password = secret.String()
		}
		req.SetBasicAuth(c.username, password)
	}

	resp, err := req.Get(c.prefix + path)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUnexpectedResponse, path, err)
	}
	c.logger.Debug("gerrit request", "url", resp.Request.URL, "status", resp.StatusCode(), "duration", resp.Time())

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %s: %s", ErrUnexpectedResponse, resp.Request.URL, resp.Status(), snippet(resp.Body()))
	}
	return resp.Body(), nil
}

// decodeJSON strips the anti-XSSI prefix and decodes body into v.
func decodeJSON(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, []byte(xssiPrefix))
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// restyLogger routes resty's internal messages into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}
