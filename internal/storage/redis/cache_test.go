package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInfo(t *testing.T) {
	raw := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:0\r\n\r\n# Clients\r\nconnected_clients:3\r\n"
	info := ParseInfo(raw)

	assert.Equal(t, "1048576", info["used_memory"])
	assert.Equal(t, "1.00M", info["used_memory_human"])
	assert.Equal(t, "0", info["maxmemory"])
	assert.Equal(t, "3", info["connected_clients"])
	assert.Len(t, info, 4)
}

func TestNewClientFallsBackToAddr(t *testing.T) {
	c := NewClient("localhost:6379")
	defer c.Close()
	assert.Equal(t, "localhost:6379", c.Options().Addr)

	c2 := NewClient("redis://:secret@cache:6380/2")
	defer c2.Close()
	assert.Equal(t, "cache:6380", c2.Options().Addr)
	assert.Equal(t, 2, c2.Options().DB)
}
