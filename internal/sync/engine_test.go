package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/store"
	"github.com/skdvlpr/gomercatocrm/internal/timeline"
)

type published struct {
	chatID  string
	action  realtime.Action
	payload any
}

type recorder struct {
	mu     gosync.Mutex
	events []published
}

func (r *recorder) Publish(chatID string, action realtime.Action, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{chatID, action, payload})
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func intPtr(v int) *int { return &v }

func inbound(id, body string, ts int64) bridge.Message {
	return bridge.Message{
		ID:        bridge.ID(id),
		From:      "391234@c.us",
		To:        "390000@c.us",
		Body:      body,
		Type:      "chat",
		Timestamp: timeline.Stamp(ts),
	}
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	e := NewEngine(db, rec, nil)
	ctx := context.Background()

	res, err := e.IngestMessage(ctx, inbound("m1", "hello", 1700000000))
	if err != nil {
		t.Fatal(err)
	}
	if res != store.Inserted {
		t.Fatalf("result = %v, want inserted", res)
	}

	msgs, err := db.ListByChat(ctx, "391234@c.us", 10, store.Chronological)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" || msgs[0].Timestamp != 1700000000000 {
		t.Fatalf("stored = %+v", msgs)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(events))
	}
	if events[0].action != realtime.ActionMessage || events[0].chatID != "391234@c.us" {
		t.Errorf("broadcast = %+v", events[0])
	}
	tm, ok := events[0].payload.(timeline.Message)
	if !ok || tm.ExternalID != "m1" {
		t.Errorf("payload = %#v", events[0].payload)
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	e := NewEngine(db, rec, nil)
	ctx := context.Background()

	msg := inbound("m1", "v1", 1700000000)
	if _, err := e.IngestMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "v2"
	res, err := e.IngestMessage(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res != store.AlreadyPresent {
		t.Errorf("second ingest = %v, want already_present", res)
	}

	count, _ := db.MessageCount(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("got %d broadcasts, want 1", n)
	}
	row, _ := db.Get(ctx, "391234@c.us", "m1")
	if row == nil || row.Body != "v1" {
		t.Errorf("stored body = %+v, want v1", row)
	}
}

func TestEngineSkipsSystemAndIncomplete(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	e := NewEngine(db, rec, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  bridge.Message
	}{
		{"status broadcast", bridge.Message{ID: "s1", From: "status@broadcast", Body: "story", Timestamp: 1700000000}},
		{"protocol", bridge.Message{ID: "p1", From: "391234@c.us", Type: "protocol", Timestamp: 1700000000}},
		{"no id", bridge.Message{From: "391234@c.us", Body: "x", Timestamp: 1700000000}},
		{"no chat", bridge.Message{ID: "n1", Body: "x", Timestamp: 1700000000}},
		{"no timestamp", bridge.Message{ID: "t1", From: "391234@c.us", Body: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.IngestMessage(ctx, tt.msg)
			if !errors.Is(err, ErrSkipped) {
				t.Errorf("err = %v, want ErrSkipped", err)
			}
		})
	}

	count, _ := db.MessageCount(ctx)
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("got %d broadcasts, want 0", n)
	}
}

func TestEngineApplyAck(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	e := NewEngine(db, rec, nil)
	ctx := context.Background()

	own := bridge.Message{
		ID: "o1", From: "390000@c.us", To: "391234@c.us", Body: "hi",
		FromMe: true, Timestamp: 1700000000, Ack: intPtr(1),
	}
	if _, err := e.IngestMessage(ctx, own); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		level     ack.Level
		broadcast bool
	}{
		{ack.Delivered, true},
		{ack.Read, true},
		{ack.Delivered, false},
		{ack.Failed, false},
	}
	for _, s := range steps {
		got, err := e.ApplyAck(ctx, "391234@c.us", "o1", s.level)
		if err != nil {
			t.Fatal(err)
		}
		if got != s.broadcast {
			t.Errorf("ApplyAck(%v) broadcast = %v, want %v", s.level, got, s.broadcast)
		}
	}

	row, _ := db.Get(ctx, "391234@c.us", "o1")
	if row == nil || row.AckLevel.Int64 != int64(ack.Read) {
		t.Errorf("stored ack = %+v, want read", row)
	}

	var acks []realtime.AckPayload
	for _, ev := range rec.all() {
		if ev.action == realtime.ActionAck {
			acks = append(acks, ev.payload.(realtime.AckPayload))
		}
	}
	if len(acks) != 2 || acks[1].Ack != int(ack.Read) || acks[1].Status != "read" {
		t.Errorf("ack broadcasts = %+v", acks)
	}
}

func TestEngineApplyAckUnknownMessageStillBroadcasts(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(testDB(t), rec, nil)

	got, err := e.ApplyAck(context.Background(), "391234@c.us", "from-phone", ack.Delivered)
	if err != nil {
		t.Fatal(err)
	}
	if !got || len(rec.all()) != 1 {
		t.Errorf("broadcast = %v, events = %d", got, len(rec.all()))
	}
}

func TestEngineApplyAckInvalid(t *testing.T) {
	e := NewEngine(testDB(t), &recorder{}, nil)
	ctx := context.Background()
	if _, err := e.ApplyAck(ctx, "c", "", ack.Read); !errors.Is(err, ErrSkipped) {
		t.Errorf("empty id: err = %v", err)
	}
	if _, err := e.ApplyAck(ctx, "c", "x", ack.Level(9)); !errors.Is(err, ErrSkipped) {
		t.Errorf("bad level: err = %v", err)
	}
}

func TestEngineBackfill(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	e := NewEngine(db, rec, nil)
	ctx := context.Background()

	msgs := []bridge.Message{
		inbound("a", "one", 1700000000),
		inbound("b", "two", 1700000060),
		{ID: "s", From: "status@broadcast", Timestamp: 1700000000},
	}
	n, err := e.Backfill(ctx, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	n, err = e.Backfill(ctx, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second backfill inserted = %d, want 0", n)
	}
	if len(rec.all()) != 0 {
		t.Error("backfill must not broadcast")
	}
}

func TestEngineRedeliveryWithHigherAckBroadcastsAck(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	e := NewEngine(db, rec, nil)
	ctx := context.Background()

	own := bridge.Message{
		ID: "o1", From: "390000@c.us", To: "391234@c.us", Body: "hi",
		FromMe: true, Timestamp: 1700000000, Ack: intPtr(1),
	}
	if _, err := e.IngestMessage(ctx, own); err != nil {
		t.Fatal(err)
	}

	own.Ack = intPtr(3)
	res, err := e.IngestMessage(ctx, own)
	if err != nil {
		t.Fatal(err)
	}
	if res != store.AckRaised {
		t.Fatalf("redelivery = %v, want ack_raised", res)
	}

	// Same level again: nothing new to announce.
	res, err = e.IngestMessage(ctx, own)
	if err != nil {
		t.Fatal(err)
	}
	if res != store.AlreadyPresent {
		t.Errorf("third delivery = %v, want already_present", res)
	}

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("got %d broadcasts, want 2", len(events))
	}
	if events[1].action != realtime.ActionAck || events[1].chatID != "391234@c.us" {
		t.Fatalf("second broadcast = %+v", events[1])
	}
	p := events[1].payload.(realtime.AckPayload)
	if p.MessageID != "o1" || p.Ack != int(ack.Read) || p.Status != "read" {
		t.Errorf("ack payload = %+v", p)
	}
}
