package config

import (
	"errors"
	"strings"
	"text/template"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/skdvlpr/gomercatocrm/internal/session"
)

var sessionIDRule = validation.By(func(v any) error {
	return session.ValidateID(v.(string))
})

var basicAuthRule = validation.By(func(v any) error {
	for _, entry := range v.([]string) {
		user, secret, ok := strings.Cut(entry, ":")
		if !ok || user == "" || secret == "" {
			return errors.New("must be user:secret")
		}
	}
	return nil
})

var templateRule = validation.By(func(v any) error {
	_, err := template.New("greeting").Parse(v.(string))
	return err
})

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bridge),
		validation.Field(&c.HTTP),
		validation.Field(&c.Sync),
		validation.Field(&c.Greeter),
	)
}

func (b BridgeConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.URL, validation.Required, is.URL),
		validation.Field(&b.SessionID, validation.Required, sessionIDRule),
		validation.Field(&b.Retries, validation.Min(1)),
	)
}

func (h HTTPConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Listen, validation.Required),
		validation.Field(&h.BasicAuth, basicAuthRule),
	)
}

func (s SyncConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ResubscribeMax, validation.Min(0)),
		validation.Field(&s.LoginPollMax, validation.Required, validation.Min(1)),
		validation.Field(&s.MessageLimit, validation.Min(0)),
	)
}

func (g GreeterConfig) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.Template, validation.When(g.Enabled, validation.Required), templateRule),
	)
}
