package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"cosmossdk.io/log"

	"github.com/Matty-7/StockTradingSystem/feed"
	"github.com/Matty-7/StockTradingSystem/metrics"
)

// OpsConfig contains the operational HTTP listener configuration
type OpsConfig struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOpsConfig returns default ops listener configuration
func DefaultOpsConfig() OpsConfig {
	return OpsConfig{
		Listen:       ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// OpsServer serves the non-trading surfaces: Prometheus metrics,
// health, and the market-data WebSocket feed.
type OpsServer struct {
	config     OpsConfig
	hub        *feed.Hub
	logger     log.Logger
	listener   net.Listener
	httpServer *http.Server
}

// NewOpsServer creates the ops listener. hub may be nil, which
// disables the /ws endpoint.
func NewOpsServer(cfg OpsConfig, hub *feed.Hub, logger log.Logger) *OpsServer {
	return &OpsServer{
		config: cfg,
		hub:    hub,
		logger: logger.With("module", "ops"),
	}
}

// Start binds the listener and serves in the background
func (o *OpsServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", o.handleHealth)
	if o.hub != nil {
		mux.HandleFunc("/ws", o.hub.ServeWS)
	}

	ln, err := net.Listen("tcp", o.config.Listen)
	if err != nil {
		return err
	}
	o.listener = ln

	o.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  o.config.ReadTimeout,
		WriteTimeout: o.config.WriteTimeout,
	}
	o.logger.Info("ops listening", "addr", ln.Addr().String())

	go func() {
		if err := o.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.logger.Error("ops server failed", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, nil before Start
func (o *OpsServer) Addr() net.Addr {
	if o.listener == nil {
		return nil
	}
	return o.listener.Addr()
}

// Stop shuts the HTTP server down gracefully
func (o *OpsServer) Stop(ctx context.Context) error {
	if o.httpServer == nil {
		return nil
	}
	return o.httpServer.Shutdown(ctx)
}

func (o *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
