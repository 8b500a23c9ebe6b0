package history

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/config"
)

// TokenCounter returns the token count of a text.
type TokenCounter func(text string) int

// EstimateTokens is the byte-ratio fallback.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + config.TokenEstimateRatio - 1) / config.TokenEstimateRatio
}

// EstimateEncoding selects EstimateTokens without loading tiktoken.
const EstimateEncoding = "estimate"

// NewTiktokenCounter counts with the named encoding (e.g. "cl100k_base").
// If the encoding cannot be loaded it logs once and falls back to EstimateTokens.
func NewTiktokenCounter(encoding string) TokenCounter {
	if encoding == "" || encoding == EstimateEncoding {
		return EstimateTokens
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("tiktoken unavailable, estimating tokens")
		return EstimateTokens
	}
	return func(text string) int {
		if text == "" {
			return 0
		}
		return len(enc.Encode(text, nil, nil))
	}
}
