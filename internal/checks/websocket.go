package checks

import (
	"context"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

type WebSocketProbe struct {
	info
	conns        ConnectionCounter
	checkTimeout time.Duration
}

func NewWebSocketProbe(conns ConnectionCounter, checkTimeout time.Duration) *WebSocketProbe {
	return &WebSocketProbe{
		info: info{
			name:        "websocket",
			displayName: "WebSocket Server",
			description: "Real-time transport availability and connection count",
			checkNames:  []string{"WebSocket Server", "Active Connections"},
		},
		conns:        conns,
		checkTimeout: checkTimeout,
	}
}

func (p *WebSocketProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	count, ok := 0, false
	if p.conns != nil {
		count, ok = p.conns.ActiveConnections()
	}
	if !ok {
		rec.Warning("WebSocket server is not running")
		rec.Add("WebSocket Server", Warn(core.SeverityMedium, "Real-time transport not initialized"))
		return rec.Result()
	}
	rec.Add("WebSocket Server", Pass("Server running"))
	rec.Metric("active_connections", core.Int(int64(count)))

	if count == 0 {
		rec.Add("Active Connections", Warn(core.SeverityLow, "No active connections"))
	} else {
		rec.Add("Active Connections", Pass("%d active connections", count))
	}
	return rec.Result()
}
