// Package api is the REST client for the Beacon server. It backs the polling
// fallback and the derived notification adapters; the realtime channel lives
// in internal/realtime.
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"
)

// requestTimeout bounds every REST call, independent of the realtime
// handshake timeout.
const requestTimeout = 10 * time.Second

// TokenFunc returns the current bearer token. It is called per request
// because a concurrent 401 can invalidate the stored credential at any time;
// callers must not cache tokens across long operations.
type TokenFunc func() (string, bool)

// Client wraps the server's notification, conversation and offer endpoints.
type Client struct {
	http  *resty.Client
	token TokenFunc
}

// New creates a REST client for the given base URL.
func New(serverURL string, token TokenFunc) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetTimeout(requestTimeout)
	return &Client{http: httpClient, token: token}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if c.token != nil {
		if token, ok := c.token(); ok {
			req.SetAuthToken(token)
		}
	}
	return req
}

// Counts fetches the authoritative notification counters.
func (c *Client) Counts(ctx context.Context) (Counts, error) {
	var out Counts
	resp, err := c.request(ctx).SetResult(&out).Get("/api/v1/notifications/counts")
	if err != nil {
		return Counts{}, fmt.Errorf("fetch counts: %w", err)
	}
	if resp.IsError() {
		return Counts{}, fmt.Errorf("fetch counts: %s", resp.Status())
	}
	return out, nil
}

// Notifications fetches one page of stored notifications.
func (c *Client) Notifications(ctx context.Context, page, limit int) (NotificationPage, error) {
	var out NotificationPage
	resp, err := c.request(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		Get("/api/v1/notifications")
	if err != nil {
		return NotificationPage{}, fmt.Errorf("fetch notifications: %w", err)
	}
	if resp.IsError() {
		return NotificationPage{}, fmt.Errorf("fetch notifications: %s", resp.Status())
	}
	return out, nil
}

// MarkRead marks a single server-side notification as read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	resp, err := c.request(ctx).Put("/api/v1/notifications/" + id + "/read")
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark read: %s", resp.Status())
	}
	return nil
}

// MarkAllRead marks every notification as read, optionally scoped to a type.
func (c *Client) MarkAllRead(ctx context.Context, typ string) error {
	req := c.request(ctx)
	if typ != "" {
		req.SetQueryParam("type", typ)
	}
	resp, err := req.Put("/api/v1/notifications/mark-all-read")
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark all read: %s", resp.Status())
	}
	return nil
}

// Conversations lists the caller's conversations with unread metadata.
func (c *Client) Conversations(ctx context.Context, role string) ([]Conversation, error) {
	var out []Conversation
	resp, err := c.request(ctx).
		SetQueryParam("role", role).
		SetResult(&out).
		Get("/api/v1/conversations")
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch conversations: %s", resp.Status())
	}
	return out, nil
}

// PendingOffers lists offers awaiting a response.
func (c *Client) PendingOffers(ctx context.Context, status string) ([]Offer, error) {
	if status == "" {
		status = "pending"
	}
	var out []Offer
	resp, err := c.request(ctx).
		SetQueryParam("status", status).
		SetResult(&out).
		Get("/api/v1/offers/pending")
	if err != nil {
		return nil, fmt.Errorf("fetch pending offers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch pending offers: %s", resp.Status())
	}
	return out, nil
}
