package gateway

import (
	"time"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/monitoring"
)

func buildInitEvent(cfg *config.Config, version string) *monitoring.InitEvent {
	return &monitoring.InitEvent{
		Timestamp:            time.Now(),
		Event:                "gateway_init",
		Version:              version,
		ServerPort:           cfg.Server.Port,
		ServerReadTimeoutMs:  cfg.Server.ReadTimeout.Milliseconds(),
		ServerWriteTimeoutMs: cfg.Server.WriteTimeout.Milliseconds(),
		BasicSessions:        len(cfg.Upstream.Basic),
		PlusSessions:         len(cfg.Upstream.Plus),
		MaxRetries:           cfg.Conversation.MaxRetries,
		RetryIntervalMs:      cfg.Conversation.RetryInterval.Milliseconds(),
		SearchEnabled:        cfg.Pipes.Search.Enabled,
		ArtifactsEnabled:     cfg.Pipes.Artifacts.Enabled,
		StorageDriver:        cfg.Storage.Driver,
		TelemetryPath:        cfg.Monitoring.TelemetryPath,
	}
}
