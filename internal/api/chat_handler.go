package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/chatlist"
)

func (s *server) getChats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	raw, err := s.Bridge.Chats(ctx)
	if err != nil {
		return bridgeUnavailable(err)
	}
	chats := chatlist.BuildChatList(raw, time.Now())

	// Contact names fill in chats the bridge left unnamed. Missing contacts
	// are not fatal.
	if contacts, err := s.Bridge.Contacts(ctx); err == nil {
		chats = chatlist.WithContactNames(chats, chatlist.DeduplicateContacts(contacts))
	} else {
		s.log.Debug("contacts unavailable for chat names", zap.Error(err))
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		chats = chatlist.Filter(chats, q)
	}
	return ok(c, "chats", chats)
}

func (s *server) getContacts(c *fiber.Ctx) error {
	raw, err := s.Bridge.Contacts(c.UserContext())
	if err != nil {
		return bridgeUnavailable(err)
	}
	return ok(c, "contacts", chatlist.DeduplicateContacts(raw))
}

// getProfilePic resolves an avatar URL through the cache. Bridge failures
// yield an empty URL and are not cached.
func (s *server) getProfilePic(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		return badRequest("id is required", nil)
	}
	ctx := c.UserContext()
	log := s.log.With(zap.String("contact_id", id))

	if s.Avatars != nil {
		url, found, err := s.Avatars.Get(ctx, id)
		if err != nil {
			log.Warn("avatar cache read failed", zap.Error(err))
		} else if found {
			return ok(c, "profile picture", fiber.Map{"id": id, "url": url, "cached": true})
		}
	}

	url, err := s.Bridge.ProfilePicURL(ctx, id)
	if err != nil {
		log.Debug("profile picture unavailable", zap.Error(err))
		return ok(c, "profile picture unavailable", fiber.Map{"id": id, "url": ""})
	}
	if s.Avatars != nil {
		if err := s.Avatars.Put(ctx, id, url); err != nil {
			log.Warn("avatar cache write failed", zap.Error(err))
		}
	}
	return ok(c, "profile picture", fiber.Map{"id": id, "url": url, "cached": false})
}
