package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/jid"
	"github.com/skdvlpr/gomercatocrm/internal/outbox"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/store"
	ingest "github.com/skdvlpr/gomercatocrm/internal/sync"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// Message history sources.
const (
	SourceBridge = "bridge"
	SourceStore  = "store"
)

type historyResult struct {
	ChatID   string             `json:"chatId"`
	Messages []timeline.Message `json:"messages"`
	Source   string             `json:"source"`
}

// getChatMessages merges bridge history with stored rows. When the bridge is
// down the stored rows alone are served.
func (s *server) getChatMessages(c *fiber.Ctx) error {
	chatID := strings.TrimSpace(c.Query("chatId"))
	if chatID == "" {
		return badRequest("chatId is required", nil)
	}
	limit := c.QueryInt("limit", s.MessageLimit)
	if limit <= 0 {
		limit = s.MessageLimit
	}
	limit = min(limit, maxMessageLimit)

	ctx := c.UserContext()
	log := s.log.With(zap.String("chat_id", chatID))

	rows, err := s.Messages.ListByChat(ctx, chatID, limit, store.Chronological)
	if err != nil {
		return internal("read stored messages", err)
	}
	stored := make([]timeline.Message, 0, len(rows))
	for _, r := range rows {
		stored = append(stored, r.Timeline())
	}

	res := historyResult{ChatID: chatID, Source: SourceBridge}
	raw, err := s.Bridge.ChatMessages(ctx, chatID, limit)
	if err != nil {
		log.Warn("bridge history unavailable, serving stored rows", zap.Error(err))
		res.Source = SourceStore
		res.Messages = timeline.Merge(nil, stored, nil)
	} else {
		if _, err := s.Ingest.Backfill(ctx, raw); err != nil {
			log.Warn("backfill failed", zap.Error(err))
		}
		fromBridge := make([]timeline.Message, 0, len(raw))
		for _, m := range raw {
			if m.IsSystem() {
				continue
			}
			tm := m.Timeline()
			if tm.ChatID == "" {
				tm.ChatID = chatID
			}
			fromBridge = append(fromBridge, tm)
		}
		confirmed, placeholders := splitPlaceholders(stored)
		res.Messages = timeline.Merge(fromBridge, confirmed, placeholders)
		for i, m := range res.Messages {
			if outbox.IsPlaceholder(m.ExternalID) {
				res.Messages[i].Optimistic = false
			}
		}
	}
	if n := len(res.Messages); n > limit {
		res.Messages = res.Messages[n-limit:]
	}
	if res.Messages == nil {
		res.Messages = []timeline.Message{}
	}
	return ok(c, "chat messages", res)
}

// splitPlaceholders separates stored sends that only carry a locally minted
// id. They are merged like optimistic entries so the bridge's copy of the
// same send replaces them.
func splitPlaceholders(stored []timeline.Message) (confirmed, placeholders []timeline.Message) {
	for _, m := range stored {
		if m.FromMe && outbox.IsPlaceholder(m.ExternalID) {
			placeholders = append(placeholders, m)
			continue
		}
		confirmed = append(confirmed, m)
	}
	return confirmed, placeholders
}

type sendResult struct {
	MessageID string           `json:"messageId"`
	TempID    string           `json:"tempId"`
	Message   timeline.Message `json:"message"`
}

func (s *server) sendMessage(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body", err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error(), err)
	}
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		chatID = jid.ChatID(req.Phone)
	}
	if chatID == "" {
		return badRequest("phone has no digits", nil)
	}

	msg, err := s.Outbox.Send(c.UserContext(), outbox.Request{
		ChatID: chatID,
		Body:   req.Message,
		TempID: req.TempID,
	})
	if err != nil {
		if errors.Is(err, outbox.ErrEmptyBody) || errors.Is(err, outbox.ErrEmptyChat) {
			return badRequest(err.Error(), err)
		}
		s.log.Warn("send failed", zap.String("chat_id", chatID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(ResponseData{
			Status:  fiber.StatusBadGateway,
			Code:    "SEND_FAILED",
			Message: err.Error(),
			Results: fiber.Map{"tempId": msg.TempID, "chatId": chatID},
		})
	}
	return ok(c, "message sent", sendResult{
		MessageID: msg.ExternalID,
		TempID:    msg.TempID,
		Message:   msg,
	})
}

func (s *server) broadcastAck(c *fiber.Ctx) error {
	var req ackRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body", err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error(), err)
	}
	level := req.level()
	changed, err := s.Ingest.ApplyAck(c.UserContext(), req.ChatID, req.MessageID, level)
	if errors.Is(err, ingest.ErrSkipped) {
		return badRequest(err.Error(), err)
	}
	if err != nil {
		return internal("apply ack", err)
	}
	return ok(c, "ack processed", fiber.Map{
		"messageId": req.MessageID,
		"ack":       int(level),
		"status":    level.String(),
		"changed":   changed,
	})
}

func (s *server) broadcastTyping(c *fiber.Ctx) error {
	var req typingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body", err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error(), err)
	}
	typing := req.IsTyping == nil || *req.IsTyping
	s.Publisher.Publish(req.ChatID, realtime.ActionTyping, realtime.TypingPayload{IsTyping: typing})
	return ok(c, "typing broadcast", fiber.Map{"chatId": req.ChatID, "isTyping": typing})
}
