package syncagent

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

	"github.com/skdvlpr/gomercatocrm/internal/chatlist"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

const apiPrefix = "/api/whatsapp"

// APIError is a non-success answer from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
	// TempID is set when a send failed after the daemon assigned one.
	TempID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

// ClientConfig addresses the daemon's HTTP API.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the daemon's HTTP API.
type Client struct {
	base     string
	username string
	password string
	http     *http.Client
}

// NewClient creates a client for the daemon listening at cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// PushURL is the websocket endpoint of the daemon.
func (c *Client) PushURL() string {
	u := c.base + apiPrefix + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// AuthHeader returns the headers to authenticate push connections.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.username != "" {
		req, _ := http.NewRequest(http.MethodGet, c.base, nil)
		req.SetBasicAuth(c.username, c.password)
		h.Set("Authorization", req.Header.Get("Authorization"))
	}
	return h
}

// SessionStatus is the daemon's view of the bridge session.
type SessionStatus struct {
	State       status.State `json:"state"`
	BridgeState string       `json:"bridgeState"`
	Message     string       `json:"message"`
	IsConnected bool         `json:"isConnected"`
}

// History is one fetch of a chat's timeline.
type History struct {
	ChatID   string             `json:"chatId"`
	Messages []timeline.Message `json:"messages"`
	Source   string             `json:"source"`
}

// QR is a pending pairing code.
type QR struct {
	Token string `json:"qr"`
	Image string `json:"qrImage"`
}

type sendResult struct {
	MessageID string           `json:"messageId"`
	TempID    string           `json:"tempId"`
	Message   timeline.Message `json:"message"`
}

func (c *Client) Status(ctx context.Context) (SessionStatus, error) {
	var out SessionStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context) (string, error) {
	var out struct {
		QRCode string `json:"qrCode"`
	}
	err := c.do(ctx, http.MethodPost, "/login", nil, nil, &out)
	return out.QRCode, err
}

func (c *Client) QRCode(ctx context.Context) (QR, error) {
	var out QR
	err := c.do(ctx, http.MethodGet, "/qrCode", nil, nil, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil, nil)
}

func (c *Client) Chats(ctx context.Context) ([]chatlist.Chat, error) {
	var out []chatlist.Chat
	err := c.do(ctx, http.MethodGet, "/getChats", nil, nil, &out)
	return out, err
}

func (c *Client) Contacts(ctx context.Context) ([]chatlist.Contact, error) {
	var out []chatlist.Contact
	err := c.do(ctx, http.MethodGet, "/getContacts", nil, nil, &out)
	return out, err
}

func (c *Client) ChatMessages(ctx context.Context, chatID string, limit int) (History, error) {
	q := url.Values{"chatId": {chatID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out History
	err := c.do(ctx, http.MethodGet, "/getChatMessages", q, nil, &out)
	return out, err
}

// Send posts a message. The returned message carries the confirmed external
// id and the temp id it was sent under.
func (c *Client) Send(ctx context.Context, chatID, body, tempID string) (timeline.Message, error) {
	var out sendResult
	err := c.do(ctx, http.MethodPost, "/sendMessage", nil, map[string]string{
		"chatId":  chatID,
		"message": body,
		"tempId":  tempID,
	}, &out)
	if err != nil {
		return timeline.Message{}, err
	}
	msg := out.Message
	if msg.ExternalID == "" {
		msg.ExternalID = out.MessageID
	}
	if msg.TempID == "" {
		msg.TempID = tempID
	}
	return msg, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.base + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		var failed struct {
			TempID string `json:"tempId"`
		}
		if len(env.Results) > 0 && json.Unmarshal(env.Results, &failed) == nil {
			apiErr.TempID = failed.TempID
		}
		return apiErr
	}
	if out == nil || len(env.Results) == 0 || string(env.Results) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Results, out); err != nil {
		return fmt.Errorf("decode %s results: %w", path, err)
	}
	return nil
}
