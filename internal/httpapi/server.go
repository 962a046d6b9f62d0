// Package httpapi wires the gin HTTP surface around the MCP Streamable HTTP
// handler: CORS, JWT auth middleware, the unauthenticated /health probe, a
// /ws notification fan-out endpoint, and graceful shutdown — generalized
// from the teacher's bare net/http mux-plus-ListenAndServe wiring in
// mcp-server/main.go onto gin, the way hyper's internal/middleware layers
// onto gin.Engine.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/auth"
	"hyperion-taskctl/internal/config"
	"hyperion-taskctl/internal/notification"
)

// HealthChecker reports the liveness of the dependencies /health surfaces.
type HealthChecker interface {
	// DatabaseStatus returns "ok" or a short failure reason.
	DatabaseStatus(ctx context.Context) string
}

// Server bundles the gin engine and the underlying http.Server for
// Start/Shutdown lifecycle management.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// New builds the gin engine: CORS, auth middleware on everything except
// /health, /health itself, mcpHandler mounted at /mcp, and a /ws websocket
// endpoint fed by notifier's live fan-out plus reconnect replay.
func New(cfg *config.Config, logger *zap.Logger, mcpServer *mcp.Server, health HealthChecker, notifier *notification.Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Debug"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	allowlist := map[string]bool{"/health": true}
	engine.Use(auth.GinMiddleware(cfg, logger, allowlist))

	engine.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		if health != nil {
			dbStatus = health.DatabaseStatus(c.Request.Context())
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"database": gin.H{"status": dbStatus},
			"auth":     gin.H{"provider": "keycloak", "enabled": cfg.AuthEnabled},
			"mcp_tools": true,
		})
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(
		func(req *http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{Stateless: false, JSONResponse: true},
	)
	engine.Any("/mcp", gin.WrapH(mcpHandler))
	engine.Any("/mcp/*rest", gin.WrapH(mcpHandler))

	if notifier != nil {
		engine.GET("/ws", wsHandler(logger, notifier))
	}

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%s", cfg.MCPHost, cfg.MCPPort),
			Handler: engine,
		},
		logger: logger,
	}
}

// Run starts the server and blocks until it stops or errors.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler upgrades an authenticated request to a websocket connection,
// replays any notifications the caller missed since its "since" query
// parameter (RFC3339, defaulting to one minute ago), then subscribes the
// connection to live fan-out until the client disconnects.
func wsHandler(logger *zap.Logger, notifier *notification.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, ok := auth.AuthInfoFromGin(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{
				"code": "UNAUTHENTICATED", "message": "missing auth info",
			}})
			return
		}

		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		since := time.Now().Add(-time.Minute)
		if raw := c.Query("since"); raw != "" {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				since = parsed
			}
		}
		for _, n := range notifier.Replay(info.UserID, since) {
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}

		notifier.Subscribe(info.UserID, conn)
		defer notifier.Unsubscribe(info.UserID, conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
