package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ernie/teamwatch/internal/auth"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/tracker"
)

// TenantControl is the part of the tracker the API drives.
// *tracker.Tracker satisfies it.
type TenantControl interface {
	Events() <-chan domain.Event
	Tracked() []string
	ResetTenant(ctx context.Context, tenantID string) (int64, error)
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	gzip      http.Handler
	svc       *tracker.Service
	control   TenantControl
	secrets   *auth.Secrets
	auth      *auth.Service
	wsHub     *WebSocketHub
	logger    *slog.Logger
	staticDir string
}

// NewRouter creates a new HTTP router
func NewRouter(svc *tracker.Service, control TenantControl, secrets *auth.Secrets, authService *auth.Service, logger *slog.Logger, staticDir string) *Router {
	logger = logger.With("component", "api")
	r := &Router{
		mux:       http.NewServeMux(),
		svc:       svc,
		control:   control,
		secrets:   secrets,
		auth:      authService,
		wsHub:     NewWebSocketHub(logger),
		logger:    logger,
		staticDir: staticDir,
	}

	// Tenant history, PIN gated
	r.mux.HandleFunc("GET /api/tenants/{tenant}/sessions", r.requireTenant(r.handleGetSessions))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/players/{player}/stats", r.requireTenant(r.handleGetPlayerStats))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/players/{player}/positions", r.requireTenant(r.handleGetPositions))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/deaths", r.requireTenant(r.handleGetDeaths))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/team", r.requireTenant(r.handleGetTeamStats))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/server-stats", r.requireTenant(r.handleGetServerStats))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/connections", r.requireTenant(r.handleGetConnections))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/chat", r.requireTenant(r.handleGetChat))
	r.mux.HandleFunc("POST /api/tenants/{tenant}/chat/sync", r.requireTenant(r.handleSyncChat))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/commands", r.requireTenant(r.handleGetCommands))
	r.mux.HandleFunc("GET /api/tenants/{tenant}/replay", r.requireTenant(r.handleGetReplay))
	r.mux.HandleFunc("POST /api/tenants/{tenant}/reset", r.requireTenant(r.handleReset))

	// PIN management
	r.mux.HandleFunc("GET /api/tenants/{tenant}/pin-status", r.handlePinStatus)
	r.mux.HandleFunc("POST /api/tenants/{tenant}/pin/verify", r.handleVerifyPin)
	r.mux.HandleFunc("POST /api/tenants/{tenant}/pin", r.handleSetPin)
	r.mux.HandleFunc("PUT /api/tenants/{tenant}/pin", r.handleUpdatePin)
	r.mux.HandleFunc("DELETE /api/tenants/{tenant}/pin", r.requireTenant(r.handleRemovePin))

	r.mux.HandleFunc("GET /api/colors", r.handleGetColors)
	r.mux.HandleFunc("GET /api/info", r.handleInfo)

	// WebSocket endpoint
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Static files - only serve if staticDir is configured
	if staticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	r.gzip = gzhttp.GzipHandler(r.mux)
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// WebSocket upgrades need the raw connection
	if req.URL.Path == "/ws" {
		r.mux.ServeHTTP(w, req)
		return
	}
	r.gzip.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting tracker events to WebSocket clients
// until ctx is done
func (r *Router) StartWebSocketHub(ctx context.Context) {
	go r.wsHub.Run(ctx)

	go func() {
		events := r.control.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-events:
				r.wsHub.Broadcast(event)
			}
		}
	}()
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}

	fullPath := filepath.Join(r.staticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(r.staticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		fullPath = filepath.Join(r.staticDir, "index.html")
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	if contentType := getContentType(fullPath); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, req, fullPath)
}

// getContentType returns the content type for a file based on extension
func getContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	default:
		return ""
	}
}
