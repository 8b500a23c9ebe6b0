// Package gateway fronts the upstream session pool with one caller-facing API.
//
// DESIGN: The Gateway owns every request-scoped collaborator explicitly:
//   - ledger:  per-credential quota (quota.Ledger)
//   - pool:    fixed per-tier upstream sessions (pool.Pool)
//   - orch:    conversation creation with fixed backoff (Orchestrator)
//   - chain:   prompt preprocessing (pipes.Chain)
//   - history: turn persistence and audit reads (history.Store)
//
// Nothing is process-global, so tests build a Gateway around fakes.
//
// ROUTES:
//
//	GET  /health, /api/v1/health           liveness
//	GET  /stats, /keys                     loopback-only metrics and key table
//	GET  /api/v1/clients_status            per-session usage (admin)
//	POST /api/v1/conversations/{credential} recorded turns (admin)
//	POST /api/v1/claude/chat               SSE or JSON dispatch
//	GET  /api/v1/claude/chat/ws            WebSocket dispatch
//	POST /api/v1/claude/upload_image       attachment upload
//	POST /api/v1/claude/convert_document   text document to inline attachment
//	GET  /api/v1/claude/list_models        model catalog
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/auth"
	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/history"
	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/monitoring"
	"github.com/compresr/session-gateway/internal/pipes"
	"github.com/compresr/session-gateway/internal/pool"
	"github.com/compresr/session-gateway/internal/quota"
)

// historyWriteTimeout bounds one detached history write.
const historyWriteTimeout = 10 * time.Second

// Deps are the collaborators a Gateway is built from.
// Nil optional fields get working defaults.
type Deps struct {
	Config  *config.Config
	Ledger  *quota.Ledger
	Pool    *pool.Pool
	Catalog *models.Catalog
	Chain   *pipes.Chain
	History history.Store

	// Optional
	Orchestrator *Orchestrator
	Metrics      *monitoring.MetricsCollector
	Tracker      *monitoring.Tracker
	Admin        *auth.Admin
	Version      string
}

// Gateway is the session gateway server.
type Gateway struct {
	cfg     *config.Config
	ledger  *quota.Ledger
	pool    *pool.Pool
	catalog *models.Catalog
	chain   *pipes.Chain
	history history.Store
	orch    *Orchestrator
	metrics *monitoring.MetricsCollector
	tracker *monitoring.Tracker
	recent  *monitoring.RecentLog
	admin   *auth.Admin
	version string

	server  *http.Server
	writes  sync.WaitGroup // detached history writes
	handler http.Handler
}

// New builds a Gateway.
func New(d Deps) *Gateway {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Gateway{
		cfg:     cfg,
		ledger:  d.Ledger,
		pool:    d.Pool,
		catalog: d.Catalog,
		chain:   d.Chain,
		history: d.History,
		orch:    d.Orchestrator,
		metrics: d.Metrics,
		tracker: d.Tracker,
		recent:  monitoring.NewRecentLog(),
		admin:   d.Admin,
		version: d.Version,
	}
	if g.catalog == nil {
		g.catalog = models.NewCatalog(cfg.Models.Basic, cfg.Models.Plus)
	}
	if g.chain == nil {
		g.chain = pipes.NewChain()
	}
	if g.orch == nil {
		c := cfg.Conversation
		g.orch = NewOrchestrator(c.MaxRetries, FixedBackoff(c.RetryInterval), c.SettleDelay, nil)
	}
	if g.metrics == nil {
		g.metrics = monitoring.NewMetricsCollector()
	}
	if g.admin == nil {
		g.admin = auth.NewAdmin(cfg.Admin.JWTSecret)
	}
	if g.version == "" {
		g.version = "dev"
	}
	g.handler = g.routes()

	g.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      g.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g
}

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *monitoring.MetricsCollector { return g.metrics }

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /api/v1/health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.HandleFunc("GET /keys", g.handleKeyDashboard)

	admin := g.admin.Middleware(g.deny)
	mux.Handle("GET /api/v1/clients_status", admin(http.HandlerFunc(g.handleClientsStatus)))
	mux.Handle("POST /api/v1/conversations/{credential}", admin(http.HandlerFunc(g.handleConversations)))

	// Chat gates deleted credentials itself and answers in-band.
	chatCallers := auth.RequireCredential(g.ledger, g.deny, auth.AllowDeleted())
	mux.Handle("POST /api/v1/claude/chat", chatCallers(http.HandlerFunc(g.handleChat)))
	mux.Handle("GET /api/v1/claude/chat/ws", chatCallers(http.HandlerFunc(g.handleChatWS)))

	callers := auth.RequireCredential(g.ledger, g.deny, auth.DeletedMessage(quota.DeletedMessage))
	mux.Handle("POST /api/v1/claude/upload_image", callers(http.HandlerFunc(g.handleUpload)))
	mux.Handle("POST /api/v1/claude/convert_document", callers(http.HandlerFunc(g.handleConvertDocument)))
	mux.Handle("GET /api/v1/claude/list_models", callers(http.HandlerFunc(g.handleListModels)))

	return mux
}

// Start serves until Shutdown. It blocks.
func (g *Gateway) Start() error {
	g.tracker.RecordInit(buildInitEvent(g.cfg, g.version))
	log.Info().
		Str("addr", g.server.Addr).
		Int("basic_sessions", g.pool.Size(models.TierBasic)).
		Int("plus_sessions", g.pool.Size(models.TierPlus)).
		Msg("session gateway listening")

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight history writes,
// then closes the stores.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		g.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown: history writes still pending")
	}

	if g.history != nil {
		if cerr := g.history.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("shutdown: close history store")
		}
	}
	if g.ledger != nil {
		if cerr := g.ledger.Store().Close(); cerr != nil {
			log.Error().Err(cerr).Msg("shutdown: close credential store")
		}
	}
	_ = g.tracker.Close()
	return err
}

// WaitWrites blocks until detached history writes finished.
func (g *Gateway) WaitWrites() { g.writes.Wait() }

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// deny adapts writeError to the middleware signature.
func (g *Gateway) deny(w http.ResponseWriter, status int, msg string) {
	g.writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// isLoopback reports whether a RemoteAddr is local.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
