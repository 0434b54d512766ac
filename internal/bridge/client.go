// Package bridge is the REST client for the WhatsApp bridge service
// (wwebjs-api). Every identifier leaving this package is a plain string.
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// ErrUnavailable wraps failures that persisted after every retry.
var ErrUnavailable = errors.New("bridge unavailable")

// DefaultSessionID is the bridge session used when none is configured.
const DefaultSessionID = "espocrm-session"

// Config configures a Client.
type Config struct {
	BaseURL        string
	APIKey         string
	SessionID      string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
}

// Client talks to one bridge session.
type Client struct {
	baseURL    string
	apiKey     string
	sessionID  string
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a bridge client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = DefaultSessionID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		sessionID:  cfg.SessionID,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// SessionID returns the bridge session this client drives.
func (c *Client) SessionID() string { return c.sessionID }

// Status returns the bridge session state.
func (c *Client) Status(ctx context.Context) (SessionState, error) {
	var resp struct {
		Success bool   `json:"success"`
		State   string `json:"state"`
		Message string `json:"message"`
	}
	err := c.get(ctx, "/session/status/"+c.sessionID, nil, &resp)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Status == http.StatusNotFound {
		return SessionState{State: "NOT_STARTED", Message: herr.Body}, nil
	}
	if err != nil {
		return SessionState{}, err
	}
	state := strings.ToUpper(resp.State)
	if state == "" {
		state = "DISCONNECTED"
	}
	return SessionState{
		State:       state,
		Message:     resp.Message,
		IsConnected: IsConnectedState(state),
	}, nil
}

// StartSession asks the bridge to start (or resume) the session.
func (c *Client) StartSession(ctx context.Context) error {
	return c.get(ctx, "/session/start/"+c.sessionID, nil, nil)
}

// QRCode returns the current login token, or "" when none is pending.
func (c *Client) QRCode(ctx context.Context) (string, error) {
	var resp struct {
		QR string `json:"qr"`
	}
	if err := c.get(ctx, "/session/qr/"+c.sessionID, nil, &resp); err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.Status < 500 {
			return "", nil
		}
		return "", err
	}
	return resp.QR, nil
}

// QRImage returns the login QR as a PNG data URI, or "" when none is pending.
// When the bridge serves no image the token is rendered locally.
func (c *Client) QRImage(ctx context.Context) (string, error) {
	body, contentType, err := c.raw(ctx, http.MethodGet, "/session/qr/"+c.sessionID+"/image", nil, nil)
	if err == nil && strings.HasPrefix(contentType, "image/") && len(body) > 0 {
		return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
	}
	if err != nil {
		c.logger.Debug("bridge qr image unavailable, rendering token", zap.Error(err))
	}
	token, err := c.QRCode(ctx)
	if err != nil || token == "" {
		return "", err
	}
	return RenderQR(token)
}

// RenderQR encodes token as a PNG data URI.
func RenderQR(token string) (string, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Chats lists the session's chats.
func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := c.list(ctx, "/client/getChats/"+c.sessionID, nil, &chats, "chats", "data"); err != nil {
		return nil, err
	}
	return chats, nil
}

// ChatMessages returns up to limit recent messages of a chat.
func (c *Client) ChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("chatId", chatID)
	q.Set("limit", fmt.Sprint(limit))
	var msgs []Message
	if err := c.list(ctx, "/client/getChatMessages/"+c.sessionID, q, &msgs, "messages", "data"); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Contacts lists the session's contacts.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	if err := c.list(ctx, "/client/getContacts/"+c.sessionID, nil, &contacts, "contacts", "data"); err != nil {
		return nil, err
	}
	return contacts, nil
}

// SendMessage sends a text message. It is attempted once: a failed send is
// reported to the caller and never retried here.
func (c *Client) SendMessage(ctx context.Context, chatID, body string) (SendResult, error) {
	req := map[string]string{
		"chatId":      chatID,
		"contentType": "string",
		"content":     body,
	}
	var resp struct {
		Success bool     `json:"success"`
		Message *Message `json:"message"`
		Error   string   `json:"error"`
	}
	raw, _, err := c.raw(ctx, http.MethodPost, "/client/sendMessage/"+c.sessionID, nil, req)
	if err != nil {
		return SendResult{}, err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SendResult{}, fmt.Errorf("decode send response: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "bridge rejected message"
		}
		return SendResult{}, errors.New(msg)
	}
	out := SendResult{Success: true}
	if resp.Message != nil {
		out.Message = *resp.Message
		out.ExternalID = resp.Message.ID.String()
	}
	return out, nil
}

// ProfilePicURL returns the avatar URL of a contact, or "" if it has none.
func (c *Client) ProfilePicURL(ctx context.Context, contactID string) (string, error) {
	var resp struct {
		Result string `json:"result"`
	}
	_, _, err := c.rawRetry(ctx, http.MethodPost, "/client/getProfilePicUrl/"+c.sessionID, nil,
		map[string]string{"contactId": contactID}, &resp)
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && herr.Status < 500 {
			return "", nil
		}
		return "", err
	}
	return resp.Result, nil
}

// TerminateSession logs the session out on the bridge.
func (c *Client) TerminateSession(ctx context.Context) error {
	return c.get(ctx, "/session/terminate/"+c.sessionID, nil, nil)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	_, _, err := c.rawRetry(ctx, http.MethodGet, path, q, nil, out)
	return err
}

// list decodes a list payload that may be a bare array or wrapped under one
// of keys.
func (c *Client) list(ctx context.Context, path string, q url.Values, out any, keys ...string) error {
	var raw json.RawMessage
	if _, _, err := c.rawRetry(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return err
	}
	data, err := unwrapList(raw, keys...)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func unwrapList(raw json.RawMessage, keys ...string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok && len(bytes.TrimSpace(v)) > 0 && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, nil
		}
	}
	return json.RawMessage("[]"), nil
}

// rawRetry performs a request with bounded retries on transient failures.
func (c *Client) rawRetry(ctx context.Context, method, path string, q url.Values, body, out any) ([]byte, string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		data, ct, err := c.raw(ctx, method, path, q, body)
		if err == nil {
			if out != nil && len(bytes.TrimSpace(data)) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return data, ct, fmt.Errorf("decode %s: %w", path, err)
				}
			}
			return data, ct, nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			return nil, "", err
		}
		c.logger.Warn("bridge request failed, retrying",
			zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.retries {
			break
		}
		select {
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) raw(ctx context.Context, method, path string, q url.Values, body any) ([]byte, string, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Temporary()
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
