package upstream

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/models"
)

// Bootstrap builds one HTTPSession per configured entry, keyed by tier.
// List order becomes the caller-addressable session index.
func Bootstrap(cfg config.UpstreamConfig) map[models.Tier][]Session {
	out := map[models.Tier][]Session{
		models.TierBasic: build(models.TierBasic, cfg.Basic, cfg.CompletionPath),
		models.TierPlus:  build(models.TierPlus, cfg.Plus, cfg.CompletionPath),
	}
	log.Info().
		Int("basic", len(out[models.TierBasic])).
		Int("plus", len(out[models.TierPlus])).
		Msg("upstream sessions ready")
	return out
}

func build(tier models.Tier, entries []config.SessionConfig, completionPath string) []Session {
	sessions := make([]Session, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			e.Name = fmt.Sprintf("%s-%d", tier, i)
		}
		sessions = append(sessions, NewHTTPSession(e, completionPath))
	}
	return sessions
}
