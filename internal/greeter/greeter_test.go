package greeter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdvlpr/gomercatocrm/internal/outbox"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

type fakeSender struct {
	reqs []outbox.Request
	err  error
}

func (f *fakeSender) Send(_ context.Context, req outbox.Request) (timeline.Message, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return timeline.Message{}, f.err
	}
	return timeline.Message{ExternalID: "X", ChatID: req.ChatID, Body: req.Body, FromMe: true}, nil
}

type fixedState status.State

func (s fixedState) Current() status.State { return status.State(s) }

const tmpl = "Ciao {{.Name}}! Grazie per il tuo interesse."

func TestRender(t *testing.T) {
	g, err := New(true, "Hi {name} from {company} via {source}", &fakeSender{}, fixedState(status.Ready), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		lead Lead
		want string
	}{
		{"first name wins", Lead{FirstName: "Mario", Name: "Mario Rossi", Company: "ACME", Source: "Web"}, "Hi Mario from ACME via Web"},
		{"full name fallback", Lead{Name: "Mario Rossi"}, "Hi Mario Rossi from  via"},
		{"default name", Lead{}, "Hi Cliente from  via"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Render(tt.lead)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRejectsBrokenTemplate(t *testing.T) {
	_, err := New(true, "Hi {{.Name", &fakeSender{}, fixedState(status.Ready), nil)
	assert.Error(t, err)
}

func TestGreetSends(t *testing.T) {
	sender := &fakeSender{}
	g, err := New(true, tmpl, sender, fixedState(status.Ready), nil)
	require.NoError(t, err)

	res, err := g.Greet(context.Background(), Lead{ID: "L1", FirstName: "Mario", Phone: "+39 123-456", IsNew: true})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	require.Len(t, sender.reqs, 1)
	assert.Equal(t, "39123456@c.us", sender.reqs[0].ChatID)
	assert.Equal(t, "Ciao Mario! Grazie per il tuo interesse.", sender.reqs[0].Body)
	require.NotNil(t, res.Message)
	assert.Equal(t, "X", res.Message.ExternalID)
}

func TestGreetSkips(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		state   status.State
		lead    Lead
		want    string
	}{
		{"disabled", false, status.Ready, Lead{Phone: "391", IsNew: true}, SkipDisabled},
		{"existing lead", true, status.Ready, Lead{Phone: "391"}, SkipNotNew},
		{"no phone", true, status.Ready, Lead{Phone: " - ", IsNew: true}, SkipNoPhone},
		{"not ready", true, status.AuthRequired, Lead{Phone: "391", IsNew: true}, SkipNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			g, err := New(tt.enabled, tmpl, sender, fixedState(tt.state), nil)
			require.NoError(t, err)
			res, err := g.Greet(context.Background(), tt.lead)
			require.NoError(t, err)
			assert.False(t, res.Sent)
			assert.Equal(t, tt.want, res.Skipped)
			assert.Empty(t, sender.reqs)
		})
	}
}

func TestGreetSendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("bridge down")}
	g, err := New(true, tmpl, sender, fixedState(status.Ready), nil)
	require.NoError(t, err)
	_, err = g.Greet(context.Background(), Lead{ID: "L1", Phone: "391", IsNew: true})
	assert.Error(t, err)
}
