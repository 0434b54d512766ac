package valkey

import (
	"context"
	"time"
)

// AvatarCache stores profile picture URLs under "<prefix>avatar:<contactID>".
type AvatarCache struct {
	client *Client
	ttl    time.Duration
}

// NewAvatarCache returns a cache whose entries expire after ttl.
func NewAvatarCache(client *Client, ttl time.Duration) *AvatarCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AvatarCache{client: client, ttl: ttl}
}

// Get returns the cached URL for contactID.
func (a *AvatarCache) Get(ctx context.Context, contactID string) (string, bool, error) {
	return a.client.Get(ctx, a.client.Key("avatar", contactID))
}

// Put caches url for contactID.
func (a *AvatarCache) Put(ctx context.Context, contactID, url string) error {
	return a.client.Set(ctx, a.client.Key("avatar", contactID), url, a.ttl)
}
