package mailer

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	KeyFromAddress = "email.from_address"
	KeyFromName    = "email.from_name"
)

type Settings struct {
	FromAddress string
	FromName    string
}

// MetadataSource is the key/value store that may override sender settings.
type MetadataSource interface {
	GetMetadata(ctx context.Context, key string) (*string, error)
}

// SettingsCache holds sender settings for TTL, reading the metadata store
// first and falling back to the configured defaults.
type SettingsCache struct {
	source   MetadataSource
	defaults Settings
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cached  Settings
	expires time.Time
	loaded  bool
}

func NewSettingsCache(source MetadataSource, defaults Settings, ttl time.Duration, now func() time.Time) *SettingsCache {
	if now == nil {
		now = time.Now
	}
	return &SettingsCache{source: source, defaults: defaults, ttl: ttl, now: now}
}

func (c *SettingsCache) Get(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.loaded && now.Before(c.expires) {
		return c.cached, nil
	}

	s := c.defaults
	if c.source != nil {
		for key, dst := range map[string]*string{KeyFromAddress: &s.FromAddress, KeyFromName: &s.FromName} {
			v, err := c.source.GetMetadata(ctx, key)
			if err != nil {
				return Settings{}, err
			}
			if v != nil && strings.TrimSpace(*v) != "" {
				*dst = strings.TrimSpace(*v)
			}
		}
	}
	c.cached = s
	c.expires = now.Add(c.ttl)
	c.loaded = true
	return s, nil
}

// Invalidate forces the next Get to reload.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
