package provider

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

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"go.uber.org/zap"
)

// retrievePath is appended to the base URL; %s is the escaped instance id
const retrievePath = "/instances/%s/media/retrieve"

// maxErrorBody bounds how much of an error response is kept for logs
const maxErrorBody = 512

// Config holds upstream client settings
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration

	// FetchTimeout bounds a whole media download, body included
	FetchTimeout time.Duration
}

// Client implements port.MediaProvider over HTTP
type Client struct {
	baseURL     string
	httpClient  *http.Client
	fetchClient *http.Client
	logger      *zap.Logger
}

// NewClient creates a new provider client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Minute
	}

	// media bodies may take long to stream, but headers must arrive promptly
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		fetchClient: &http.Client{Timeout: fetchTimeout, Transport: transport},
		logger:      logger,
	}
}

type retrieveRequest struct {
	MediaKey   string `json:"mediaKey"`
	DirectPath string `json:"directPath"`
	Type       string `json:"type"`
	Mimetype   string `json:"mimetype"`
}

type retrieveResponse struct {
	Error     *bool           `json:"error"`
	FileLink  string          `json:"fileLink"`
	ExpiresAt json.RawMessage `json:"expiresAt"`
	Message   string          `json:"message"`
}

// RequestMediaLink asks the provider for a short-lived fetch link.
// Success requires a 2xx status and an explicit "error": false.
func (c *Client) RequestMediaLink(ctx context.Context, token string, req port.MediaRetrievalRequest) (*port.MediaLink, error) {
	body, err := json.Marshal(retrieveRequest{
		MediaKey:   req.MediaKey,
		DirectPath: req.DirectPath,
		Type:       string(req.Kind),
		Mimetype:   req.Mimetype,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode retrieval request: %w", err)
	}

	endpoint := c.baseURL + fmt.Sprintf(retrievePath, url.PathEscape(req.InstanceID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", entity.ErrPermanentAPI, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.networkError(ctx, "retrieve", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, c.networkError(ctx, "retrieve", err)
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var parsed retrieveResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: undecodable retrieval response: %v", entity.ErrPermanentAPI, err)
	}

	switch {
	case parsed.Error == nil:
		return nil, fmt.Errorf("%w: ambiguous upstream response without error flag", entity.ErrPermanentAPI)
	case *parsed.Error:
		if isNotYetAvailable(parsed.Message) {
			return nil, fmt.Errorf("%w: media not yet available", entity.ErrTransientNetwork)
		}
		return nil, fmt.Errorf("%w: upstream rejected retrieval: %s", entity.ErrPermanentAPI, parsed.Message)
	case parsed.FileLink == "":
		return nil, fmt.Errorf("%w: retrieval response has no fileLink", entity.ErrPermanentAPI)
	}

	expiresAt, err := parseExpiry(parsed.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrPermanentAPI, err)
	}

	return &port.MediaLink{URL: parsed.FileLink, ExpiresAt: expiresAt}, nil
}

// Fetch opens the fetch link; the caller closes the body.
// 403, 404 and 410 answers wrap port.ErrLinkRejected.
func (c *Client) Fetch(ctx context.Context, link *port.MediaLink) (*port.FetchedMedia, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid fetch link: %v", entity.ErrPermanentAPI, err)
	}

	resp, err := c.fetchClient.Do(httpReq)
	if err != nil {
		return nil, c.networkError(ctx, "fetch", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &port.FetchedMedia{
			Body:          resp.Body,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentLength: resp.ContentLength,
		}, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("%w: %w: fetch returned status %d", entity.ErrPermanentAPI, port.ErrLinkRejected, resp.StatusCode)
	}
	if IsRetryableStatusCode(resp.StatusCode) {
		return nil, fmt.Errorf("%w: fetch returned status %d", entity.ErrTransientNetwork, resp.StatusCode)
	}
	return nil, fmt.Errorf("%w: fetch returned status %d: %s", entity.ErrPermanentAPI, resp.StatusCode, snippet)
}

// networkError maps transport failures; caller cancellation is passed through
func (c *Client) networkError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Debug("Upstream transport error", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", entity.ErrTransientNetwork, op, err)
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: upstream returned status %d", entity.ErrAuthorization, status)
	case IsRetryableStatusCode(status):
		return fmt.Errorf("%w: upstream returned status %d", entity.ErrTransientNetwork, status)
	default:
		return fmt.Errorf("%w: upstream returned status %d: %s", entity.ErrPermanentAPI, status, snippet)
	}
}

func isNotYetAvailable(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not yet available") || strings.Contains(msg, "not available yet")
}

// parseExpiry accepts unix seconds, unix milliseconds, numeric strings and RFC3339
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return time.Time{}, fmt.Errorf("invalid expiresAt: %w", err)
	}

	switch t := v.(type) {
	case json.Number:
		num = t
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, nil
		}
		num = json.Number(t)
	default:
		return time.Time{}, fmt.Errorf("invalid expiresAt %s", string(raw))
	}

	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiresAt %s", string(raw))
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}

// Verify interface compliance
var _ port.MediaProvider = (*Client)(nil)
