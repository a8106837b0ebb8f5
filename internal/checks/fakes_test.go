package checks

import (
	"context"
	"reflect"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

// fakeDB answers queries from canned values; unknown queries leave dest at
// its zero value.
type fakeDB struct {
	pingErr error
	values  map[string]interface{}
	errs    map[string]error
}

func (f *fakeDB) PingContext(ctx context.Context) error { return f.pingErr }

func (f *fakeDB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err, ok := f.errs[query]; ok {
		return err
	}
	if v, ok := f.values[query]; ok {
		reflect.ValueOf(dest).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type fakeCache struct {
	pingErr error
	info    map[string]map[string]string
	keys    int64
	counts  map[string]int64
	ints    map[string]int64
}

func (f *fakeCache) PingContext(ctx context.Context) error { return f.pingErr }

func (f *fakeCache) ServerInfo(ctx context.Context, section string) (map[string]string, error) {
	return f.info[section], nil
}

func (f *fakeCache) KeyCount(ctx context.Context) (int64, error) { return f.keys, nil }

func (f *fakeCache) CountKeys(ctx context.Context, pattern string) (int64, error) {
	return f.counts[pattern], nil
}

func (f *fakeCache) GetInt(ctx context.Context, key string) (int64, error) {
	return f.ints[key], nil
}

type fakeKeys map[string]*core.APIKey

func (f fakeKeys) GetAPIKey(ctx context.Context, provider string) (*core.APIKey, error) {
	return f[provider], nil
}

func allKeys() fakeKeys {
	keys := fakeKeys{}
	for _, p := range []string{"BREVO", "STRIPE", "OPENAI"} {
		keys[p] = &core.APIKey{Provider: p, Key: "k-" + p, IsActive: true}
	}
	return keys
}

type fakeConns struct {
	count int
	ok    bool
}

func (f fakeConns) ActiveConnections() (int, bool) { return f.count, f.ok }

func findCheck(t interface{ Fatalf(string, ...interface{}) }, r *core.ModuleResult, description string) core.CheckOutcome {
	for _, c := range r.Checks {
		if c.Description == description {
			return c
		}
	}
	t.Fatalf("check %q not found in %s", description, r.Module)
	return core.CheckOutcome{}
}

const testTimeout = time.Second
