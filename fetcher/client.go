package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
)

const methodPrefix = "/api/method/raven.api.chat_stream."

// ClientConfig configures the upstream HTTP client
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client implements Fetcher over the backend's RPC-style HTTP API.
type Client struct {
	cfg  ClientConfig
	http *fasthttp.Client
	log  *slog.Logger
}

var _ Fetcher = (*Client)(nil)

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			Name:                     "chat-stream-gateway",
			ReadTimeout:              cfg.Timeout,
			WriteTimeout:             cfg.Timeout,
			NoDefaultUserAgentHeader: true,
		},
		log: log.With("component", "fetcher"),
	}
}

func (c *Client) GetMessages(ctx context.Context, channelID, baseMessage string) (Window, error) {
	params := url.Values{"channel_id": {channelID}}
	if baseMessage != "" {
		params.Set("base_message", baseMessage)
	}
	var w Window
	err := c.call(ctx, "get_messages", params, &w)
	return w, err
}

func (c *Client) GetOlderMessages(ctx context.Context, channelID, fromMessage string) (OlderPage, error) {
	params := url.Values{"channel_id": {channelID}, "from_message": {fromMessage}}
	var p OlderPage
	err := c.call(ctx, "get_older_messages", params, &p)
	return p, err
}

func (c *Client) GetNewerMessages(ctx context.Context, channelID, fromMessage string, limit int) (NewerPage, error) {
	params := url.Values{"channel_id": {channelID}, "from_message": {fromMessage}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var p NewerPage
	err := c.call(ctx, "get_newer_messages", params, &p)
	return p, err
}

// call performs GET <base>/api/method/...<method>?params and decodes the
// {"message": ...} envelope into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + methodPrefix + method + "?" + params.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.cfg.APIKey, c.cfg.APISecret))
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewFetchError(method+" cancelled", err)
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return apperrors.NewFetchError(method+" request failed", err)
	}
	c.log.Debug("Upstream call finished",
		"method", method,
		"status", resp.StatusCode(),
		"duration", time.Since(start))

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return apperrors.NewFetchError(
			fmt.Sprintf("%s returned status %d", method, code),
			fmt.Errorf("%s", truncate(string(resp.Body()), 200)))
	}

	envelope := struct {
		Message json.RawMessage `json:"message"`
	}{}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return apperrors.NewFetchError(method+" returned invalid JSON", err)
	}
	if len(envelope.Message) == 0 || string(envelope.Message) == "null" {
		return apperrors.NewFetchError(method+" returned an empty envelope", nil)
	}
	if err := json.Unmarshal(envelope.Message, out); err != nil {
		return apperrors.NewFetchError(method+" returned an unexpected payload", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
