package checks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/health-guardian/internal/core"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry(Deps{})
	assert.Equal(t, []string{
		"auth", "database", "cache", "websocket", "email", "notification",
		"backup", "chat", "payment", "ai", "request",
	}, r.IDs())
}

func TestRegistryLookupAliases(t *testing.T) {
	r := DefaultRegistry(Deps{})

	p, ok := r.Lookup("redis")
	require.True(t, ok)
	assert.Equal(t, "cache", p.Name())

	p, ok = r.Lookup("EmailService")
	require.True(t, ok)
	assert.Equal(t, "email", p.Name())

	_, ok = r.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestRegistryModules(t *testing.T) {
	mods := DefaultRegistry(Deps{}).Modules()
	require.Len(t, mods, 11)
	assert.Equal(t, "auth", mods[0].ID)
	assert.Equal(t, "Authentication System", mods[0].Name)
	assert.NotEmpty(t, mods[0].Checks)

	mods[0].Checks[0] = "mutated"
	assert.NotEqual(t, "mutated", DefaultRegistry(Deps{}).Modules()[0].Checks[0])
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewChatProbe(&fakeDB{}, testTimeout), NewChatProbe(&fakeDB{}, testTimeout))
	assert.Error(t, err)
}

func TestProbesWithoutBackendsStillReport(t *testing.T) {
	r := DefaultRegistry(Deps{})
	p, ok := r.Lookup("database")
	require.True(t, ok)

	res := p.Run(context.Background())
	assert.Equal(t, core.CheckFail, res.Checks[0].Status)
	assert.Equal(t, core.StatusCritical, res.Status)
}
