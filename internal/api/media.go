// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/reelfeed/reelfeed/internal/cache"
	"github.com/reelfeed/reelfeed/internal/config"
	"github.com/reelfeed/reelfeed/internal/metrics"
)

// MediaResolver produces signed playback and thumbnail URLs for items.
// Signing is HMAC-SHA256 over "itemID|expiry"; the CDN edge verifies the
// same construction. Resolved URLs are cached so a feed page does not
// recompute a signature per render.
type MediaResolver struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
	cache   *cache.LRUCache

	nowFunc func() time.Time
}

// NewMediaResolver creates a resolver from the media config. The cache TTL
// is half the URL TTL so cached URLs always have useful lifetime left.
func NewMediaResolver(cfg *config.MediaConfig) *MediaResolver {
	return &MediaResolver{
		baseURL: cfg.BaseURL,
		secret:  []byte(cfg.SigningSecret),
		ttl:     cfg.URLTTL,
		cache:   cache.NewLRUCache(cfg.CacheCapacity, cfg.URLTTL/2),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (m *MediaResolver) SetNowFunc(now func() time.Time) {
	m.nowFunc = now
}

// SignedURL returns a signed media URL for the item.
func (m *MediaResolver) SignedURL(itemID string) string {
	if url, ok := m.cache.Get(itemID); ok {
		metrics.MediaURLCacheHits.Inc()
		return url
	}
	metrics.MediaURLCacheMisses.Inc()

	expiry := m.nowFunc().Add(m.ttl).Unix()
	url := fmt.Sprintf("%s/media/%s?exp=%d&sig=%s", m.baseURL, itemID, expiry, m.sign(itemID, expiry))
	m.cache.Add(itemID, url)
	return url
}

// Verify checks a signature produced by SignedURL. Used by tests and by
// deployments that terminate media requests in this process.
func (m *MediaResolver) Verify(itemID string, expiry int64, sig string) bool {
	if expiry < m.nowFunc().Unix() {
		return false
	}
	expected := m.sign(itemID, expiry)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (m *MediaResolver) sign(itemID string, expiry int64) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(itemID))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
