// Package reportcache memoises computed reports in Redis keyed by their inputs.
package reportcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/revreport/internal/revenue"
)

const (
	versionKey  = "revreport:cache:version"
	keyPrefix   = "revreport:report"
	bumpChannel = "revreport.mapping.bump"
)

// Entry is a cached report together with the ingest counters of the run
// that built it.
type Entry struct {
	Report   revenue.Report `json:"report"`
	Rows     int            `json:"rows"`
	Records  int            `json:"records"`
	Skipped  int            `json:"skipped"`
	Rejected int            `json:"rejected"`
}

// Loader computes an entry on a cache miss.
type Loader func(context.Context) (Entry, error)

// Cache wraps Redis with a global version so a mapping change invalidates
// every stored report at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a cache. A nil client turns every call into a pass-through.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Fingerprint hashes the export bytes, mapping bytes and year range.
func Fingerprint(input, mapping []byte, years revenue.YearRange) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d\n", years.First, years.Last)
	fmt.Fprintf(h, "%d\n", len(mapping))
	h.Write(mapping)
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.Set(ctx, versionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the versioned cache key for fingerprint.
func (c *Cache) Key(ctx context.Context, fingerprint string) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d", keyPrefix, fingerprint, ver), nil
}

// Fetch returns the cached entry for fingerprint or computes and stores it.
// The boolean reports a cache hit.
func (c *Cache) Fetch(ctx context.Context, fingerprint string, loader Loader) (Entry, bool, error) {
	if loader == nil {
		return Entry{}, false, errors.New("reportcache: loader required")
	}
	if c == nil || c.client == nil {
		entry, err := loader(ctx)
		return entry, false, err
	}
	key, err := c.Key(ctx, fingerprint)
	if err != nil {
		return Entry{}, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return Entry{}, false, fmt.Errorf("reportcache: decode: %w", err)
		}
		return entry, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Entry{}, false, err
	}
	entry, err := loader(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, false, fmt.Errorf("reportcache: encode: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Entry{}, false, err
	}
	return entry, false, nil
}

// Bump invalidates every cached report and notifies listeners.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// Listen calls onBump for every version bump published by another process
// until ctx is cancelled.
func (c *Cache) Listen(ctx context.Context, onBump func(version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}
