package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/store"
)

func sqlLevel(l ack.Level) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(l), Valid: true}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign(body, "k")

	tests := []struct {
		name   string
		body   []byte
		sig    string
		secret string
		want   bool
	}{
		{"valid", body, sig, "k", true},
		{"without prefix", body, sig[len("sha256="):], "k", true},
		{"wrong secret", body, sig, "other", false},
		{"tampered body", []byte(`{"a":2}`), sig, "k", false},
		{"empty signature", body, "", "k", false},
		{"truncated", body, sig[:20], "k", false},
		{"empty body", nil, sig, "k", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.body, tt.sig, tt.secret))
		})
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.WebhookSecret = "k" })
	body := []byte(`{"dataType":"message","data":{"message":{"id":"A","from":"391234@c.us","body":"hi","timestamp":1700000000}}}`)

	code, _ := h.do(t, http.MethodPost, "/webhook", body, SignatureHeader, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, res := h.do(t, http.MethodPost, "/webhook", body, SignatureHeader, Sign(body, "k"))
	require.Equal(t, http.StatusOK, code)
	var out map[string]any
	results(t, res, &out)
	assert.Equal(t, true, out["handled"])
}

func TestWebhookIngestsOnce(t *testing.T) {
	h := newHarness(t, nil)
	envs, release := h.push.Subscribe(8)
	defer release()
	body := []byte(`{"dataType":"message","data":{"message":{"id":{"_serialized":"false_391234@c.us_A"},"from":"391234@c.us","to":"390000@c.us","body":"hi","timestamp":1700000000}}}`)

	_, res := h.do(t, http.MethodPost, "/webhook", body)
	var out map[string]any
	results(t, res, &out)
	assert.Equal(t, store.Inserted.String(), out["result"])

	env := nextEnvelope(t, envs)
	assert.Equal(t, realtime.ActionMessage, env.Action)
	assert.Equal(t, "391234@c.us", env.ChatID)

	// A redelivery is stored once and not broadcast again.
	_, res = h.do(t, http.MethodPost, "/webhook", body)
	results(t, res, &out)
	assert.Equal(t, store.AlreadyPresent.String(), out["result"])
	select {
	case env := <-envs:
		t.Fatalf("unexpected envelope %+v", env)
	default:
	}

	count, err := h.db.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWebhookFlatMessage(t *testing.T) {
	h := newHarness(t, nil)
	body := []byte(`{"event":"message","id":"B","from":"391234@c.us","to":"390000@c.us","body":"flat","timestamp":1700000000}`)

	code, res := h.do(t, http.MethodPost, "/webhook", body)
	require.Equal(t, http.StatusOK, code)
	var out map[string]any
	results(t, res, &out)
	assert.Equal(t, true, out["handled"])
}

func TestWebhookSkipsStatusBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	body := []byte(`{"dataType":"message","data":{"message":{"id":"S","from":"status@broadcast","body":"story","timestamp":1700000000}}}`)

	code, res := h.do(t, http.MethodPost, "/webhook", body)
	require.Equal(t, http.StatusOK, code)
	var out map[string]any
	results(t, res, &out)
	assert.Equal(t, false, out["handled"])

	count, err := h.db.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWebhookAck(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.db.Upsert(ctx, &store.Message{ChatID: "391234@c.us", ExternalID: "X", FromMe: true, Timestamp: 1, AckLevel: sqlLevel(ack.Sent)})
	require.NoError(t, err)
	envs, release := h.push.Subscribe(8)
	defer release()

	body := []byte(`{"dataType":"message_ack","data":{"message":{"id":"X","from":"390000@c.us","to":"391234@c.us","fromMe":true},"ack":2}}`)
	_, res := h.do(t, http.MethodPost, "/webhook", body)
	var out map[string]any
	results(t, res, &out)
	assert.Equal(t, true, out["changed"])

	env := nextEnvelope(t, envs)
	var p realtime.AckPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, int(ack.Delivered), p.Ack)

	// A stale lower ack is a no-op.
	body = []byte(`{"dataType":"message_ack","data":{"message":{"id":"X","from":"390000@c.us","to":"391234@c.us","fromMe":true},"ack":1}}`)
	_, res = h.do(t, http.MethodPost, "/webhook", body)
	results(t, res, &out)
	assert.Equal(t, false, out["changed"])
}

func TestWebhookIgnoresUnknown(t *testing.T) {
	h := newHarness(t, nil)
	code, res := h.do(t, http.MethodPost, "/webhook", []byte(`{"dataType":"qr","data":{"qr":"2@x"}}`))
	require.Equal(t, http.StatusOK, code)
	var out map[string]any
	results(t, res, &out)
	assert.Equal(t, false, out["handled"])

	code, _ = h.do(t, http.MethodPost, "/webhook", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, code)
}
