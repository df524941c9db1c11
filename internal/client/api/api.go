// Package api is the REST client for the holamess backend: account signup
// and login, token refresh, the user directory, and message history.
// Realtime traffic goes through the realtime package instead.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the backend REST API. It keeps the current token pair and
// transparently refreshes the access token once when the server reports it
// expired, mirroring the retry-after-refresh flow on the realtime side.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	accessToken  string
	refreshToken string
	device       string
	userID       string
}

func NewClient(baseURL, device string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		device:     device,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AccessToken returns the current access token for the realtime handshake.
func (c *Client) AccessToken() string { return c.accessToken }

// UserID returns the id of the logged-in user, empty before login.
func (c *Client) UserID() string { return c.userID }

type User struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"device_info"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	Current    bool      `json:"current"`
}

type CallOutcome struct {
	Status    string    `json:"status"`
	Duration  int64     `json:"duration"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type Message struct {
	ID        string       `json:"id"`
	Sender    string       `json:"sender"`
	Receiver  string       `json:"receiver"`
	Content   string       `json:"content"`
	Read      bool         `json:"read"`
	Kind      string       `json:"kind"`
	Call      *CallOutcome `json:"call,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type Conversation struct {
	Counterpart string  `json:"counterpart"`
	LastMessage Message `json:"last_message"`
	Unread      int64   `json:"unread"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (c *Client) Signup(ctx context.Context, phone, name, password string) (*User, error) {
	body := map[string]string{"phone": phone, "name": name, "password": password}
	var out User
	if err := c.call(ctx, http.MethodPost, "/api/auth/signup", body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, phone, password string) error {
	body := map[string]string{"phone": phone, "password": password, "device": c.device}
	var out tokenResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", body, &out, false); err != nil {
		return err
	}
	c.accessToken = out.AccessToken
	c.refreshToken = out.RefreshToken
	return nil
}

func (c *Client) refresh(ctx context.Context) error {
	if c.refreshToken == "" {
		return ErrUnauthorized
	}
	body := map[string]string{"refresh_token": c.refreshToken, "device": c.device}
	var out tokenResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", body, &out, false); err != nil {
		return err
	}
	c.accessToken = out.AccessToken
	c.refreshToken = out.RefreshToken
	return nil
}

// Logout revokes the current session and clears the stored token pair.
func (c *Client) Logout(ctx context.Context) error {
	body := map[string]string{"refresh_token": c.refreshToken}
	err := c.call(ctx, http.MethodPost, "/api/auth/logout", body, nil, true)
	c.accessToken = ""
	c.refreshToken = ""
	c.userID = ""
	return err
}

func (c *Client) Users(ctx context.Context) ([]*User, error) {
	var out []*User
	if err := c.call(ctx, http.MethodGet, "/api/users", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Sessions(ctx context.Context) ([]*Session, error) {
	var out []*Session
	if err := c.call(ctx, http.MethodGet, "/api/auth/sessions", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Conversation(ctx context.Context, otherUserID string) ([]*Message, error) {
	var out []*Message
	if err := c.call(ctx, http.MethodGet, "/api/messages/conversation/"+otherUserID, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, otherUserID string) error {
	return c.call(ctx, http.MethodPost, "/api/messages/read/"+otherUserID, nil, nil, true)
}

func (c *Client) Recent(ctx context.Context) ([]*Conversation, error) {
	var out []*Conversation
	if err := c.call(ctx, http.MethodGet, "/api/messages/recent", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil, false)
}

// SetUserID records the identity confirmed by the realtime handshake.
func (c *Client) SetUserID(id string) { c.userID = id }

// call performs one request; on a TOKEN_EXPIRED reply for an authenticated
// route it refreshes the pair and retries once.
func (c *Client) call(ctx context.Context, method, path string, body, out any, authed bool) error {
	code, err := c.do(ctx, method, path, body, out, authed)
	if err == nil {
		return nil
	}
	if authed && code == http.StatusUnauthorized && errors.Is(err, errTokenExpired) {
		if rerr := c.refresh(ctx); rerr != nil {
			return rerr
		}
		_, err = c.do(ctx, method, path, body, out, authed)
	}
	return err
}

// errTokenExpired is internal: call collapses it into a refresh-and-retry.
var errTokenExpired = errors.New("access token expired")

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) (int, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, mapStatus(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func mapStatus(resp *http.Response) error {
	var er errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if er.Code == "TOKEN_EXPIRED" {
			return errTokenExpired
		}
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadRequest:
		return ErrBadRequest
	default:
		if er.Error != "" {
			return fmt.Errorf("server error: %s", er.Error)
		}
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
}
