// Package upstream is the client for the external anonymization service.
package upstream

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
	"strings"
	"time"

	"github.com/gonkalabs/opendeid/internal/deid"
	"github.com/gonkalabs/opendeid/internal/metrics"
	"github.com/gonkalabs/opendeid/internal/signer"
)

// DefaultPath is appended to a service URL given without a path.
const DefaultPath = "/api/anonymize"

// maxErrorBody bounds how much of a failed response is kept as detail.
const maxErrorBody = 4 << 10

// Request is the body of an anonymization call.
type Request struct {
	Text                 string   `json:"text"`
	Language             string   `json:"language"`
	NerModel             string   `json:"nerModel"`
	Threshold            float64  `json:"threshold"`
	Allowlist            string   `json:"allowlist"`
	Denylist             string   `json:"denylist"`
	EntityTypes          []string `json:"entityTypes"`
	DeidentificationType string   `json:"deidentificationType"`
	MaskCharCount        int      `json:"maskCharCount"`
	MaskChar             string   `json:"maskChar"`
	EncryptKey           string   `json:"encryptKey"`
}

// StatusError is returned for a non-2xx response. Body holds the response
// text, possibly empty.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream: status %d", e.Code)
	}
	return fmt.Sprintf("upstream: status %d: %s", e.Code, e.Body)
}

// Detail is the message shown for a failed call: the response body when
// there is one, otherwise a generic text.
func Detail(err error) string {
	var se *StatusError
	if errors.As(err, &se) && strings.TrimSpace(se.Body) != "" {
		return strings.TrimSpace(se.Body)
	}
	return "Anonymization request failed."
}

// Client calls the anonymization endpoint. It never retries: a failed
// submission is retried by the user.
type Client struct {
	url    string
	http   *http.Client
	signer *signer.Signer
}

// Option configures a Client.
type Option func(*Client)

// WithSigner signs every request body.
func WithSigner(s *signer.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client for serviceURL (see Endpoint). timeout bounds a
// whole call including reading the response.
func New(serviceURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url: Endpoint(serviceURL),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint returns raw with DefaultPath appended when raw has no path.
func Endpoint(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.Path == "" {
		u.Path = DefaultPath
	}
	return u.String()
}

// URL is the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Anonymize posts req and decodes the response leniently.
func (c *Client) Anonymize(ctx context.Context, req Request) (deid.Response, error) {
	start := time.Now()
	resp, outcome, err := c.anonymize(ctx, req)
	metrics.ObserveAnonymize(outcome, time.Since(start))
	if err != nil {
		slog.Warn("upstream: anonymize failed", "outcome", outcome, "err", err, "duration", time.Since(start))
		return deid.Response{}, err
	}
	slog.Info("upstream: anonymize", "entities", len(resp.Entities), "items", len(resp.Items), "duration", time.Since(start))
	return resp, nil
}

func (c *Client) anonymize(ctx context.Context, req Request) (deid.Response, string, error) {
	if req.EntityTypes == nil {
		req.EntityTypes = []string{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return deid.Response{}, "encode_error", fmt.Errorf("upstream: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return deid.Response{}, "transport_error", fmt.Errorf("upstream: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.signer != nil {
		if err := c.signer.Apply(httpReq, payload); err != nil {
			return deid.Response{}, "encode_error", fmt.Errorf("upstream: %w", err)
		}
	}

	slog.Debug("upstream request", "url", c.url, "model", req.NerModel, "mode", req.DeidentificationType, "chars", len(req.Text))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return deid.Response{}, "transport_error", fmt.Errorf("upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return deid.Response{}, "status_error", &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return deid.Response{}, "transport_error", fmt.Errorf("upstream: read: %w", err)
	}
	out, err := deid.ParseResponse(body)
	if err != nil {
		return deid.Response{}, "decode_error", fmt.Errorf("upstream: decode: %w", err)
	}
	return out, "ok", nil
}
