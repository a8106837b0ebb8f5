package redis

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	SummaryKey = "health:summary:last"
	SummaryTTL = 15 * time.Minute
	scanBatch  = 1000
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	client := redis.NewClient(opt)

	return &Client{client}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

func (c *Client) PingContext(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// ServerInfo returns the key/value pairs of one INFO section.
func (c *Client) ServerInfo(ctx context.Context, section string) (map[string]string, error) {
	raw, err := c.Info(ctx, section).Result()
	if err != nil {
		return nil, err
	}
	return ParseInfo(raw), nil
}

func (c *Client) KeyCount(ctx context.Context) (int64, error) {
	return c.DBSize(ctx).Result()
}

// CountKeys counts keys matching pattern using SCAN.
func (c *Client) CountKeys(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// DeleteMatching removes keys matching pattern using SCAN and UNLINK and
// returns how many were removed.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// GetInt reads an integer counter; a missing key is 0.
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *Client) CacheSummary(ctx context.Context, s *core.SystemHealthSummary) error {
	return c.SetJSON(ctx, SummaryKey, s, SummaryTTL)
}

func (c *Client) CachedSummary(ctx context.Context) (*core.SystemHealthSummary, error) {
	var s core.SystemHealthSummary
	if err := c.GetJSON(ctx, SummaryKey, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SummaryMirror copies every published summary into the cache so other
// replicas can serve it.
type SummaryMirror struct {
	Client *Client
}

func (m SummaryMirror) Publish(ctx context.Context, s *core.SystemHealthSummary) error {
	return m.Client.CacheSummary(ctx, s)
}

// ParseInfo parses the text returned by the INFO command.
func ParseInfo(raw string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
