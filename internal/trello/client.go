package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiBase = "https://api.trello.com/1"

// Client is a read-only Trello REST client. Board data is never modified;
// only webhook subscriptions can be created or deleted.
type Client struct {
	key     string
	token   string
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithBaseURL overrides the API base, used by tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(key, token string, opts ...Option) *Client {
	c := &Client{
		key:     key,
		token:   token,
		baseURL: apiBase,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCard fetches the full card body including description, attachments
// and comments. This is the authoritative read the pipeline classifies and
// extracts from.
func (c *Client) FetchCard(ctx context.Context, cardID string) (*Card, error) {
	params := url.Values{
		"fields":      {"all"},
		"attachments": {"true"},
		"actions":     {"commentCard"},
	}
	var card Card
	if err := c.get(ctx, "/cards/"+url.PathEscape(cardID), params, &card); err != nil {
		return nil, fmt.Errorf("fetching card %s: %w", cardID, err)
	}
	return &card, nil
}

func (c *Client) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	var board Board
	if err := c.get(ctx, "/boards/"+url.PathEscape(boardID), nil, &board); err != nil {
		return nil, fmt.Errorf("fetching board %s: %w", boardID, err)
	}
	return &board, nil
}

// ListBoards lists boards accessible with the current key/token. Used by the
// operator CLI to verify access.
func (c *Client) ListBoards(ctx context.Context) ([]Board, error) {
	params := url.Values{
		"fields": {"id,name,url,closed,idOrganization"},
	}
	var boards []Board
	if err := c.get(ctx, "/members/me/boards", params, &boards); err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	return boards, nil
}

// RegisterWebhook subscribes the callback URL to changes on the given model
// (board). Infrastructure bootstrapping only, not part of the steady-state
// pipeline.
func (c *Client) RegisterWebhook(ctx context.Context, modelID, callbackURL, description string) (*Webhook, error) {
	if description == "" {
		description = "orderflow webhook"
	}
	body := map[string]any{
		"idModel":     modelID,
		"callbackURL": callbackURL,
		"description": description,
		"active":      true,
	}
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", nil, body, &hook); err != nil {
		return nil, fmt.Errorf("registering webhook for %s: %w", modelID, err)
	}
	slog.InfoContext(ctx, "registered trello webhook",
		"webhook_id", hook.ID,
		"model_id", modelID,
		"callback_url", callbackURL)
	return &hook, nil
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var hooks []Webhook
	path := "/tokens/" + url.PathEscape(c.token) + "/webhooks"
	if err := c.get(ctx, path, nil, &hooks); err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return hooks, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	if err := c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(webhookID), nil, nil, nil); err != nil {
		return fmt.Errorf("deleting webhook %s: %w", webhookID, err)
	}
	slog.InfoContext(ctx, "deleted trello webhook", "webhook_id", webhookID)
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.key)
	params.Set("token", c.token)

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
