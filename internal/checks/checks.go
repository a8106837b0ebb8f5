package checks

import (
	"context"

	"github.com/leozw/health-guardian/internal/core"
)

// Probe is a self-contained diagnostic routine for one infrastructure area.
// Run always returns a result; failures are reported inside it.
type Probe interface {
	Name() string
	DisplayName() string
	Description() string
	CheckNames() []string
	Run(ctx context.Context) *core.ModuleResult
}

// Querier is the relational query surface probes rely on. *sqlx.DB
// satisfies it.
type Querier interface {
	PingContext(ctx context.Context) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// CacheClient is the subset of cache operations used for liveness and
// session probes.
type CacheClient interface {
	PingContext(ctx context.Context) error
	ServerInfo(ctx context.Context, section string) (map[string]string, error)
	KeyCount(ctx context.Context) (int64, error)
	CountKeys(ctx context.Context, pattern string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// KeyProvider looks up provider credentials. A missing provider yields
// (nil, nil).
type KeyProvider interface {
	GetAPIKey(ctx context.Context, provider string) (*core.APIKey, error)
}

// ConnectionCounter reports live real-time connections; ok is false when the
// transport is not running.
type ConnectionCounter interface {
	ActiveConnections() (count int, ok bool)
}

type info struct {
	name        string
	displayName string
	description string
	checkNames  []string
}

func (i info) Name() string        { return i.name }
func (i info) DisplayName() string { return i.displayName }
func (i info) Description() string { return i.description }

func (i info) CheckNames() []string {
	names := make([]string, len(i.checkNames))
	copy(names, i.checkNames)
	return names
}
