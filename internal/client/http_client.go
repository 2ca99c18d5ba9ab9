// Package client implements the HTTP client used by the whatsgate CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 8 << 10
)

// HTTPClient wraps HTTP interactions with the daemon.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
	apiKey  string
}

// NewHTTPClient builds an HTTP client with optional custom transport.
func NewHTTPClient(baseURL, token string, transport http.RoundTripper) *HTTPClient {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if transport != nil {
		httpClient.Transport = transport
	}

	return &HTTPClient{
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
	}
}

// BaseURL returns the base HTTP URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Token returns the current bearer token.
func (c *HTTPClient) Token() string {
	return c.token
}

// SetAPIKey configures the key used for the send endpoints.
func (c *HTTPClient) SetAPIKey(key string) {
	c.apiKey = strings.TrimSpace(key)
}

// Account is the daemon's public view of a user.
type Account struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	APIKey            string `json:"api_key"`
	WhatsAppConnected bool   `json:"whatsapp_connected"`
}

// ClientInfo identifies the WhatsApp account a session is logged in as.
type ClientInfo struct {
	Pushname string `json:"pushname"`
	Phone    string `json:"phone"`
}

// SessionStatus is the daemon's connection snapshot for one user.
type SessionStatus struct {
	Connected  bool        `json:"connected"`
	State      string      `json:"state"`
	ClientInfo *ClientInfo `json:"clientInfo"`
}

// PairingStatus is one poll of the pairing endpoint.
type PairingStatus struct {
	Connected bool   `json:"connected"`
	QRCode    string `json:"qrCode"`
	Message   string `json:"message"`
}

// InitResult reports the outcome of a session initialize request.
type InitResult struct {
	Connected   bool   `json:"connected"`
	Initialized bool   `json:"initialized"`
	Message     string `json:"message"`
}

// SendResult is the daemon's acknowledgement of an outbound send.
type SendResult struct {
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
}

// Register creates an account on the daemon.
func (c *HTTPClient) Register(ctx context.Context, name, email, password string) (Account, error) {
	var out struct {
		User Account `json:"user"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", map[string]string{
		"name":            name,
		"email":           email,
		"password":        password,
		"confirmPassword": password,
	}, &out)
	return out.User, err
}

// Login authenticates and remembers the returned session token.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (Account, error) {
	var out struct {
		Token string  `json:"token"`
		User  Account `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out); err != nil {
		return Account{}, err
	}
	c.token = out.Token
	c.apiKey = out.User.APIKey
	return out.User, nil
}

// CurrentUser fetches the account behind the session token.
func (c *HTTPClient) CurrentUser(ctx context.Context) (Account, error) {
	var out struct {
		User Account `json:"user"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &out)
	return out.User, err
}

// InitSession asks the daemon to start the pairing handshake.
func (c *HTTPClient) InitSession(ctx context.Context) (InitResult, error) {
	var out InitResult
	err := c.doJSON(ctx, http.MethodPost, "/whatsapp/init", nil, &out)
	return out, err
}

// PairingCode polls for the latest pairing payload.
func (c *HTTPClient) PairingCode(ctx context.Context) (PairingStatus, error) {
	var out PairingStatus
	err := c.doJSON(ctx, http.MethodGet, "/whatsapp/qr", nil, &out)
	return out, err
}

// Status fetches the session connection snapshot.
func (c *HTTPClient) Status(ctx context.Context) (SessionStatus, error) {
	var out SessionStatus
	err := c.doJSON(ctx, http.MethodGet, "/whatsapp/status", nil, &out)
	return out, err
}

// LogoutSession disconnects the WhatsApp session and invalidates its
// stored credentials.
func (c *HTTPClient) LogoutSession(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/whatsapp/logout", nil, nil)
}

// SendText delivers a text message through the API-key endpoint.
func (c *HTTPClient) SendText(ctx context.Context, to, message string) (SendResult, error) {
	var out SendResult
	err := c.doJSON(ctx, http.MethodPost, "/api/send-message", map[string]string{
		"to":      to,
		"message": message,
	}, &out)
	return out, err
}

// SendMediaURL delivers media fetched by the daemon from a URL.
func (c *HTTPClient) SendMediaURL(ctx context.Context, to, mediaURL, caption string) (SendResult, error) {
	var out SendResult
	err := c.doJSON(ctx, http.MethodPost, "/api/send-media-url", map[string]string{
		"to":       to,
		"mediaUrl": mediaURL,
		"caption":  caption,
	}, &out)
	return out, err
}

// doJSON performs one API call, decoding the response into out when it is
// non-nil. Non-2xx responses surface the server's message field.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.apiKey != "" && strings.HasPrefix(path, "/api/") {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Message); msg != "" {
				return errors.New(msg)
			}
		}
	}
	if trimmed == "" {
		return errors.New(resp.Status)
	}
	return errors.New(trimmed)
}
