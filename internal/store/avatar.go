package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PutAvatar caches the profile picture URL of a contact.
func (db *DB) PutAvatar(ctx context.Context, contactID, url string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO avatars (contact_id, url, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			url = excluded.url,
			fetched_at = excluded.fetched_at`,
		contactID, url, time.Now().UnixMilli())
	return err
}

// GetAvatar returns the cached avatar of a contact if it is younger than
// maxAge. ok is false on a miss or an expired entry.
func (db *DB) GetAvatar(ctx context.Context, contactID string, maxAge time.Duration) (Avatar, bool, error) {
	var a Avatar
	err := db.QueryRowContext(ctx, `SELECT contact_id, url, fetched_at FROM avatars WHERE contact_id = ?`, contactID).
		Scan(&a.ContactID, &a.URL, &a.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Avatar{}, false, nil
	}
	if err != nil {
		return Avatar{}, false, err
	}
	if maxAge > 0 && time.Since(time.UnixMilli(a.FetchedAt)) > maxAge {
		return a, false, nil
	}
	return a, true, nil
}

// AvatarCache serves the avatars table as a TTL cache.
type AvatarCache struct {
	db  *DB
	ttl time.Duration
}

// NewAvatarCache returns a cache whose entries expire after ttl.
func NewAvatarCache(db *DB, ttl time.Duration) *AvatarCache {
	return &AvatarCache{db: db, ttl: ttl}
}

// Get returns the cached URL for contactID. An empty URL with ok set means
// the contact is known to have no picture.
func (a *AvatarCache) Get(ctx context.Context, contactID string) (string, bool, error) {
	av, ok, err := a.db.GetAvatar(ctx, contactID, a.ttl)
	return av.URL, ok, err
}

// Put caches url for contactID.
func (a *AvatarCache) Put(ctx context.Context, contactID, url string) error {
	return a.db.PutAvatar(ctx, contactID, url)
}
