package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	ingest "github.com/skdvlpr/gomercatocrm/internal/sync"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// Webhook event kinds sent by the bridge.
const (
	eventMessage       = "message"
	eventMessageCreate = "message_create"
	eventMessageAck    = "message_ack"
)

// webhookPayload accepts both the wrapped {dataType, data:{message, ack}}
// shape and a flat message with an event name.
type webhookPayload struct {
	DataType  string          `json:"dataType"`
	Event     string          `json:"event"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type webhookData struct {
	Message *bridge.Message `json:"message"`
	Ack     *int            `json:"ack"`
}

func (p webhookPayload) kind() string {
	if p.DataType != "" {
		return p.DataType
	}
	return p.Event
}

// VerifySignature reports whether signature is the HMAC-SHA256 of body
// under secret. A "sha256=" prefix is accepted.
func VerifySignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(sig)), []byte(expected)) == 1
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// webhook ingests bridge events. Anything it cannot use is acknowledged so
// the bridge does not retry it.
func (s *server) webhook(c *fiber.Ctx) error {
	body := c.Body()
	if s.WebhookSecret != "" && !VerifySignature(body, c.Get(SignatureHeader), s.WebhookSecret) {
		return unauthorized("invalid webhook signature")
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return badRequest("invalid webhook body", err)
	}
	kind := p.kind()
	log := s.log.With(zap.String("event", kind))

	var data webhookData
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			log.Debug("webhook data not understood", zap.Error(err))
			return ok(c, "ignored", fiber.Map{"handled": false})
		}
	}
	if data.Message == nil {
		// Flat shape: the body is the message itself.
		var flat bridge.Message
		if err := json.Unmarshal(body, &flat); err == nil && flat.ID != "" {
			data.Message = &flat
		}
	}
	if data.Message == nil {
		log.Debug("webhook without message ignored")
		return ok(c, "ignored", fiber.Map{"handled": false})
	}

	ctx := c.UserContext()
	switch kind {
	case eventMessage, eventMessageCreate, "":
		res, err := s.Ingest.IngestMessage(ctx, *data.Message)
		if errors.Is(err, ingest.ErrSkipped) {
			log.Debug("webhook message skipped", zap.Error(err))
			return ok(c, "skipped", fiber.Map{"handled": false})
		}
		if err != nil {
			return internal("ingest message", err)
		}
		return ok(c, "ingested", fiber.Map{"handled": true, "result": res.String()})

	case eventMessageAck:
		level, known := webhookAck(data)
		if !known {
			log.Debug("ack webhook without level ignored")
			return ok(c, "ignored", fiber.Map{"handled": false})
		}
		m := data.Message
		changed, err := s.Ingest.ApplyAck(ctx, m.ChatID(), m.ID.String(), level)
		if err != nil {
			return internal("apply ack", err)
		}
		return ok(c, "ack applied", fiber.Map{"handled": true, "changed": changed})
	}

	log.Debug("unhandled webhook event")
	return ok(c, "ignored", fiber.Map{"handled": false})
}

func webhookAck(d webhookData) (ack.Level, bool) {
	switch {
	case d.Ack != nil:
		return bridge.AckLevel(*d.Ack), true
	case d.Message.Ack != nil:
		return bridge.AckLevel(*d.Message.Ack), true
	}
	return ack.FromStatus(d.Message.Status)
}
