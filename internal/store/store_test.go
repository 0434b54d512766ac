package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ackOf(l ack.Level) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(l), Valid: true}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != SchemaVersion {
		t.Errorf("version = %d, want %d (messages + avatars)", result.Version, SchemaVersion)
	}
}

func TestMigrateRefusesBrokenSchemas(t *testing.T) {
	tests := []struct {
		name   string
		update string
		want   error
	}{
		{"dirty", `UPDATE schema_migrations SET dirty = 1`, ErrDirtySchema},
		{"newer", `UPDATE schema_migrations SET version = 99`, ErrNewerSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			if _, err := db.Exec(tt.update); err != nil {
				t.Fatal(err)
			}
			if _, err := db.Migrate(); !errors.Is(err, tt.want) {
				t.Errorf("Migrate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMigrateFreshDatabaseReportsChange(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed || result.From != 0 || result.Version != SchemaVersion {
		t.Errorf("result = %+v, want 0 -> %d changed", result, SchemaVersion)
	}
}

func TestUpsertTwiceStoresOneRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := &Message{ChatID: "A@c.us", ExternalID: "X", Body: "Hi", FromMe: true, Timestamp: 1000}

	first, err := db.Upsert(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.Upsert(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if first != Inserted || second != AlreadyPresent {
		t.Errorf("results = (%s, %s), want (inserted, already_present)", first, second)
	}

	n, err := db.MessageCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("MessageCount = %d, want 1", n)
	}
}

func TestUpsertSameExternalIDDifferentChats(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, chat := range []string{"A@c.us", "B@c.us"} {
		res, err := db.Upsert(ctx, &Message{ChatID: chat, ExternalID: "X", Body: "Hi"})
		if err != nil {
			t.Fatal(err)
		}
		if res != Inserted {
			t.Errorf("chat %s: result = %s, want inserted", chat, res)
		}
	}
}

func TestUpsertRejectsMissingExternalID(t *testing.T) {
	db := testDB(t)
	_, err := db.Upsert(context.Background(), &Message{ChatID: "A@c.us", TempID: "t1"})
	if err != ErrMissingExternalID {
		t.Errorf("err = %v, want ErrMissingExternalID", err)
	}
}

func TestUpsertPresentKeepsContentBindsTempAndRaisesAck(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Webhook wins the race.
	if _, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "X", Body: "Hi", FromMe: true, Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	// Send path arrives second with its temp id.
	res, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "X", TempID: "t1", Body: "changed", FromMe: true, Timestamp: 2000, AckLevel: ackOf(ack.Sent)})
	if err != nil {
		t.Fatal(err)
	}
	if res != AckRaised {
		t.Fatalf("result = %s, want ack_raised", res)
	}

	got, err := db.Get(ctx, "A@c.us", "X")
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "Hi" || got.Timestamp != 1000 {
		t.Errorf("content changed: %+v", got)
	}
	if got.TempID != "t1" {
		t.Errorf("TempID = %q, want t1", got.TempID)
	}
	if !got.AckLevel.Valid || ack.Level(got.AckLevel.Int64) != ack.Sent {
		t.Errorf("AckLevel = %+v, want sent", got.AckLevel)
	}
}

func TestConcurrentUpsertsSameExternalID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan UpsertResult, 8)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "X", Body: "Hi", FromMe: true})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent upsert error: %v", err)
	}
	inserted := 0
	for r := range results {
		if r == Inserted {
			inserted++
		}
	}
	if inserted != 1 {
		t.Errorf("inserted = %d, want exactly 1", inserted)
	}
}

func TestListByChatOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for i, ts := range []int64{3000, 1000, 2000} {
		if _, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: string(rune('a' + i)), Timestamp: ts}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Upsert(ctx, &Message{ChatID: "B@c.us", ExternalID: "z", Timestamp: 5000}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListByChat(ctx, "A@c.us", 0, Chronological)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if msgs[i].Timestamp != want {
			t.Errorf("msgs[%d].Timestamp = %d, want %d", i, msgs[i].Timestamp, want)
		}
	}

	latest, err := db.ListByChat(ctx, "A@c.us", 2, ReverseChronological)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].Timestamp != 3000 || latest[1].Timestamp != 2000 {
		t.Errorf("latest = %+v, want timestamps 3000, 2000", latest)
	}
}

func TestRaiseAckIsMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "X", FromMe: true, AckLevel: ackOf(ack.Sent)}); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		level       ack.Level
		wantChanged bool
		wantLevel   ack.Level
	}{
		{ack.Read, true, ack.Read},
		{ack.Delivered, false, ack.Read},
		{ack.Failed, false, ack.Read},
		{ack.Sent, false, ack.Read},
	}
	for _, s := range steps {
		changed, err := db.RaiseAck(ctx, "A@c.us", "X", s.level, "")
		if err != nil {
			t.Fatal(err)
		}
		if changed != s.wantChanged {
			t.Errorf("RaiseAck(%s) changed = %v, want %v", s.level, changed, s.wantChanged)
		}
		got, _ := db.Get(ctx, "", "X")
		if ack.Level(got.AckLevel.Int64) != s.wantLevel {
			t.Errorf("after %s level = %d, want %s", s.level, got.AckLevel.Int64, s.wantLevel)
		}
	}
}

func TestRaiseAckPendingOnUnknownLevelIsNoop(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "X", FromMe: true}); err != nil {
		t.Fatal(err)
	}

	changed, err := db.RaiseAck(ctx, "A@c.us", "X", ack.Pending, "")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("RaiseAck(pending) on a row without ack reported a change")
	}
	got, _ := db.Get(ctx, "A@c.us", "X")
	if got.AckLevel.Valid {
		t.Errorf("AckLevel = %+v, want NULL", got.AckLevel)
	}

	res, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "X", FromMe: true, AckLevel: ackOf(ack.Pending)})
	if err != nil {
		t.Fatal(err)
	}
	if res != AlreadyPresent {
		t.Errorf("redelivery with pending ack = %s, want already_present", res)
	}
}

func TestRaiseAckIgnoresInboundAndUnknown(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.Upsert(ctx, &Message{ChatID: "A@c.us", ExternalID: "in", FromMe: false}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"in", "missing"} {
		changed, err := db.RaiseAck(ctx, "", id, ack.Read, "")
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Errorf("RaiseAck(%s) should not change anything", id)
		}
	}
}

func TestTimelineRoundTrip(t *testing.T) {
	row := Message{ChatID: "A@c.us", ExternalID: "X", TempID: "t", Body: "b", FromMe: true, Timestamp: 5, AckLevel: ackOf(ack.Delivered)}
	back := FromTimeline(row.Timeline())
	if back.AckLevel != row.AckLevel || back.TempID != "t" || back.ExternalID != "X" {
		t.Errorf("round trip lost data: %+v", back)
	}
}

func TestAvatarCache(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetAvatar(ctx, "A@c.us", time.Hour); err != nil || ok {
		t.Fatalf("GetAvatar on empty cache = (%v, %v), want miss", ok, err)
	}
	if err := db.PutAvatar(ctx, "A@c.us", "https://pps.example/a.jpg"); err != nil {
		t.Fatal(err)
	}
	a, ok, err := db.GetAvatar(ctx, "A@c.us", time.Hour)
	if err != nil || !ok {
		t.Fatalf("GetAvatar = (%v, %v), want hit", ok, err)
	}
	if a.URL != "https://pps.example/a.jpg" {
		t.Errorf("URL = %q", a.URL)
	}

	if _, err := db.Exec(`UPDATE avatars SET fetched_at = ?`, time.Now().Add(-2*time.Hour).UnixMilli()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.GetAvatar(ctx, "A@c.us", time.Hour); ok {
		t.Error("expired avatar should miss")
	}
}
