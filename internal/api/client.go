package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/peakfit/callkit/internal/domain"
)

const notificationPageSize = 20

// Client talks to the platform's call-record and notification endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client for the given base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createCallRequest struct {
	Recipient string           `json:"recipient"`
	Kind      domain.MediaKind `json:"mediaKind"`
}

type callResponse struct {
	Data domain.CallRecord `json:"data"`
}

type notificationsResponse struct {
	Data []domain.Notification `json:"data"`
}

// CreateCall registers a new call record and returns it. The returned record
// carries the call id used for all subsequent signaling.
func (c *Client) CreateCall(ctx context.Context, recipient string, kind domain.MediaKind) (*domain.CallRecord, error) {
	var resp callResponse
	err := c.do(ctx, http.MethodPost, "/api/calls", createCallRequest{Recipient: recipient, Kind: kind}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("create call: response missing call id")
	}
	return &resp.Data, nil
}

// AcceptCall marks the stored call record as accepted.
func (c *Client) AcceptCall(ctx context.Context, callID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/calls/"+url.PathEscape(callID)+"/accept", nil, nil); err != nil {
		return fmt.Errorf("accept call %s: %w", callID, err)
	}
	return nil
}

// RejectCall marks the stored call record as rejected.
func (c *Client) RejectCall(ctx context.Context, callID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/calls/"+url.PathEscape(callID)+"/reject", nil, nil); err != nil {
		return fmt.Errorf("reject call %s: %w", callID, err)
	}
	return nil
}

// EndCall marks the stored call record as ended.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/calls/"+url.PathEscape(callID)+"/end", nil, nil); err != nil {
		return fmt.Errorf("end call %s: %w", callID, err)
	}
	return nil
}

// UnreadNotifications fetches the first page of unread notifications.
func (c *Client) UnreadNotifications(ctx context.Context) ([]domain.Notification, error) {
	path := "/api/notifications?unread=true&limit=" + strconv.Itoa(notificationPageSize)
	var resp notificationsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return resp.Data, nil
}

// MarkNotificationRead acknowledges a notification so it is not delivered again.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
