// Package greeter sends the welcome message to newly created leads.
package greeter

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/jid"
	"github.com/skdvlpr/gomercatocrm/internal/outbox"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

// DefaultName stands in for a lead without any name.
const DefaultName = "Cliente"

// Skip reasons reported in Result.
const (
	SkipDisabled    = "disabled"
	SkipNotNew      = "not_new"
	SkipNoPhone     = "no_phone"
	SkipNotReady    = "session_not_ready"
	SkipEmptyRender = "empty_message"
)

// Lead is the part of a CRM lead the greeting can use.
type Lead struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	Name      string `json:"name"`
	Company   string `json:"accountName"`
	Source    string `json:"source"`
	Phone     string `json:"phoneNumber"`
	IsNew     bool   `json:"isNew"`
}

// templateData is what the greeting template sees.
type templateData struct {
	Name    string
	Company string
	Source  string
}

// Sender is the send path.
type Sender interface {
	Send(ctx context.Context, req outbox.Request) (timeline.Message, error)
}

// SessionState reports the bridge session state.
type SessionState interface {
	Current() status.State
}

// Result tells whether a greeting went out and, if not, why.
type Result struct {
	Sent    bool              `json:"sent"`
	Skipped string            `json:"skipped,omitempty"`
	Message *timeline.Message `json:"message,omitempty"`
}

// Greeter renders and sends lead greetings.
type Greeter struct {
	enabled bool
	tmpl    *template.Template
	sender  Sender
	session SessionState
	logger  *zap.Logger
}

// legacyPlaceholders maps the CRM's {name} style placeholders onto template
// fields, so templates copied from the CRM settings keep working.
var legacyPlaceholders = strings.NewReplacer(
	"{name}", "{{.Name}}",
	"{company}", "{{.Company}}",
	"{source}", "{{.Source}}",
)

// New parses text as the greeting template.
func New(enabled bool, text string, sender Sender, session SessionState, logger *zap.Logger) (*Greeter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("greeting").Option("missingkey=zero").Parse(legacyPlaceholders.Replace(text))
	if err != nil {
		return nil, fmt.Errorf("parse greeting template: %w", err)
	}
	return &Greeter{
		enabled: enabled,
		tmpl:    tmpl,
		sender:  sender,
		session: session,
		logger:  logger,
	}, nil
}

// Render returns the greeting for lead.
func (g *Greeter) Render(lead Lead) (string, error) {
	data := templateData{
		Name:    firstNonEmpty(lead.FirstName, lead.Name, DefaultName),
		Company: lead.Company,
		Source:  lead.Source,
	}
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render greeting: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Greet sends the greeting when greetings are enabled, the lead is new and
// has a phone number, and the bridge session is ready.
func (g *Greeter) Greet(ctx context.Context, lead Lead) (Result, error) {
	log := g.logger.With(zap.String("lead_id", lead.ID))
	switch {
	case !g.enabled:
		return Result{Skipped: SkipDisabled}, nil
	case !lead.IsNew:
		return Result{Skipped: SkipNotNew}, nil
	case jid.Digits(lead.Phone) == "":
		log.Info("lead has no phone number")
		return Result{Skipped: SkipNoPhone}, nil
	case g.session.Current() != status.Ready:
		log.Warn("session not ready, skipping greeting", zap.String("state", string(g.session.Current())))
		return Result{Skipped: SkipNotReady}, nil
	}

	body, err := g.Render(lead)
	if err != nil {
		return Result{}, err
	}
	if body == "" {
		return Result{Skipped: SkipEmptyRender}, nil
	}

	msg, err := g.sender.Send(ctx, outbox.Request{ChatID: jid.ChatID(lead.Phone), Body: body})
	if err != nil {
		return Result{}, fmt.Errorf("greet lead %s: %w", lead.ID, err)
	}
	log.Info("greeting sent", zap.String("chat_id", msg.ChatID))
	return Result{Sent: true, Message: &msg}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
