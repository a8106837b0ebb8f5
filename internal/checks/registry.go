package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDatabaseUnavailable = errors.New("database not configured")
	ErrCacheUnavailable    = errors.New("cache not configured")
)

var aliases = map[string]string{
	"redis":        "cache",
	"emailservice": "email",
}

// ModuleInfo is the static description of a registered probe.
type ModuleInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Checks      []string `json:"checks"`
}

// Deps are the collaborators handed to the built-in probes.
type Deps struct {
	DB            Querier
	Cache         CacheClient
	Keys          KeyProvider
	Connections   ConnectionCounter
	JWTSecret     string
	BackupDir     string
	AIHourlyLimit int64
	CheckTimeout  time.Duration
}

// Registry is the fixed, ordered set of probes.
type Registry struct {
	probes []Probe
	byID   map[string]Probe
}

func NewRegistry(probes ...Probe) (*Registry, error) {
	r := &Registry{byID: make(map[string]Probe, len(probes))}
	for _, p := range probes {
		if _, dup := r.byID[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate probe %q", p.Name())
		}
		r.byID[p.Name()] = p
		r.probes = append(r.probes, p)
	}
	return r, nil
}

// DefaultRegistry builds the marketplace probes in their canonical order.
func DefaultRegistry(d Deps) *Registry {
	db := d.DB
	if db == nil {
		db = noDatabase{}
	}
	cache := d.Cache
	if cache == nil {
		cache = noCache{}
	}
	t := d.CheckTimeout

	r, _ := NewRegistry(
		NewAuthProbe(d.JWTSecret, cache, db, t),
		NewDatabaseProbe(db, t),
		NewCacheProbe(cache, t),
		NewWebSocketProbe(d.Connections, t),
		NewEmailProbe(d.Keys, db, t),
		NewNotificationProbe(db, t),
		NewBackupProbe(db, d.BackupDir, t),
		NewChatProbe(db, t),
		NewPaymentProbe(d.Keys, db, t),
		NewAIProbe(d.Keys, db, cache, d.AIHourlyLimit, t),
		NewRequestProbe(db, t),
	)
	return r
}

// Lookup resolves a module id, accepting legacy aliases.
func (r *Registry) Lookup(id string) (Probe, bool) {
	p, ok := r.byID[r.Canonical(id)]
	return p, ok
}

// Canonical maps a legacy module id to its current name.
func (r *Registry) Canonical(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if c, ok := aliases[id]; ok {
		return c
	}
	return id
}

func (r *Registry) Probes() []Probe {
	out := make([]Probe, len(r.probes))
	copy(out, r.probes)
	return out
}

func (r *Registry) IDs() []string {
	ids := make([]string, len(r.probes))
	for i, p := range r.probes {
		ids[i] = p.Name()
	}
	return ids
}

func (r *Registry) Modules() []ModuleInfo {
	out := make([]ModuleInfo, len(r.probes))
	for i, p := range r.probes {
		out[i] = ModuleInfo{
			ID:          p.Name(),
			Name:        p.DisplayName(),
			Description: p.Description(),
			Checks:      p.CheckNames(),
		}
	}
	return out
}

type noDatabase struct{}

func (noDatabase) PingContext(context.Context) error { return ErrDatabaseUnavailable }
func (noDatabase) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return ErrDatabaseUnavailable
}

type noCache struct{}

func (noCache) PingContext(context.Context) error { return ErrCacheUnavailable }
func (noCache) ServerInfo(context.Context, string) (map[string]string, error) {
	return nil, ErrCacheUnavailable
}
func (noCache) KeyCount(context.Context) (int64, error)          { return 0, ErrCacheUnavailable }
func (noCache) CountKeys(context.Context, string) (int64, error) { return 0, ErrCacheUnavailable }
func (noCache) GetInt(context.Context, string) (int64, error)    { return 0, ErrCacheUnavailable }
