// Package api exposes the HTTP surface the CRM talks to.
package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/greeter"
	"github.com/skdvlpr/gomercatocrm/internal/outbox"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/store"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// Prefix is where every route is mounted.
const Prefix = "/api/whatsapp"

const maxMessageLimit = 500

// Bridge is the subset of the bridge client the handlers call.
type Bridge interface {
	Status(ctx context.Context) (bridge.SessionState, error)
	StartSession(ctx context.Context) error
	QRCode(ctx context.Context) (string, error)
	QRImage(ctx context.Context) (string, error)
	Chats(ctx context.Context) ([]bridge.Chat, error)
	ChatMessages(ctx context.Context, chatID string, limit int) ([]bridge.Message, error)
	Contacts(ctx context.Context) ([]bridge.Contact, error)
	ProfilePicURL(ctx context.Context, contactID string) (string, error)
	TerminateSession(ctx context.Context) error
}

// Ingestor persists bridge events and fans them out.
type Ingestor interface {
	IngestMessage(ctx context.Context, m bridge.Message) (store.UpsertResult, error)
	ApplyAck(ctx context.Context, chatID, externalID string, level ack.Level) (bool, error)
	Backfill(ctx context.Context, msgs []bridge.Message) (int, error)
}

// MessageLister reads stored history.
type MessageLister interface {
	ListByChat(ctx context.Context, chatID string, limit int, order store.Order) ([]store.Message, error)
}

// Outbox sends operator messages.
type Outbox interface {
	Send(ctx context.Context, req outbox.Request) (timeline.Message, error)
}

// LeadGreeter greets newly created leads.
type LeadGreeter interface {
	Greet(ctx context.Context, lead greeter.Lead) (greeter.Result, error)
}

// Publisher pushes envelopes to viewers.
type Publisher interface {
	Publish(chatID string, action realtime.Action, payload any)
}

// SessionMachine tracks the bridge session state.
type SessionMachine interface {
	Observe(bridgeState, message string) bool
	ObserveUnreachable(reason string) bool
	Snapshot() status.Snapshot
}

// AvatarCache caches profile picture URLs.
type AvatarCache interface {
	Get(ctx context.Context, contactID string) (string, bool, error)
	Put(ctx context.Context, contactID, url string) error
}

// Deps are the collaborators of the HTTP handlers. Push is optional; when
// set its websocket route is mounted under Prefix.
type Deps struct {
	Bridge        Bridge
	Messages      MessageLister
	Ingest        Ingestor
	Outbox        Outbox
	Greeter       LeadGreeter
	Publisher     Publisher
	Session       SessionMachine
	Avatars       AvatarCache
	Push          *realtime.Broadcaster
	WebhookSecret string
	BasicAuth     []string
	MessageLimit  int
	Logger        *zap.Logger
}

type server struct {
	Deps
	log *zap.Logger
}

// New builds the fiber app serving the CRM API.
func New(deps Deps) *fiber.App {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MessageLimit <= 0 {
		deps.MessageLimit = 50
	}
	s := &server{Deps: deps, log: deps.Logger.Named("api")}

	app := fiber.New(fiber.Config{
		AppName:               "crmchatd",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(s.log),
		BodyLimit:             4 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestLogger(s.log))

	root := app.Group(Prefix)
	// The bridge calls the webhook with its own HMAC, not the operator's credentials.
	root.Post("/webhook", s.webhook)

	if users := basicAuthUsers(deps.BasicAuth); len(users) > 0 {
		root.Use(basicauth.New(basicauth.Config{
			Users: users,
			Unauthorized: func(c *fiber.Ctx) error {
				return unauthorized("invalid credentials")
			},
		}))
	}

	root.Get("/status", s.status)
	root.Post("/login", s.login)
	root.Get("/qrCode", s.qrCode)
	root.Post("/logout", s.logout)

	root.Get("/getChats", s.getChats)
	root.Get("/getContacts", s.getContacts)
	root.Get("/getProfilePic", s.getProfilePic)

	root.Get("/getChatMessages", s.getChatMessages)
	root.Post("/sendMessage", s.sendMessage)
	root.Post("/broadcastAck", s.broadcastAck)
	root.Post("/broadcastTyping", s.broadcastTyping)

	root.Post("/leadCreated", s.leadCreated)

	if deps.Push != nil {
		deps.Push.RegisterRoutes(root)
	}
	return app
}

func basicAuthUsers(entries []string) map[string]string {
	users := make(map[string]string, len(entries))
	for _, e := range entries {
		user, secret, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || user == "" {
			continue
		}
		users[user] = secret
	}
	return users
}
