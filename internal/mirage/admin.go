package mirage

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	apiVersion          = "0.0.1"
	defaultMessageLimit = 50
)

// AdminState is what the admin API reads besides the registry.
type AdminState interface {
	Status() transport.Status
}

// PendingSource lists unacknowledged outbound envelopes.
type PendingSource interface {
	Pending() []session.Envelope
}

type commandRequest struct {
	Command string `json:"command"`
}

// Admin serves the controller's HTTP surface.
type Admin struct {
	id       string
	registry *Registry
	broker   AdminState
	pending  PendingSource
	router   *gin.Engine
	appeared time.Time
}

func NewAdmin(id string, registry *Registry, broker AdminState, pending PendingSource, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		id:       id,
		registry: registry,
		broker:   broker,
		pending:  pending,
		router:   r,
		appeared: time.Now(),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(a.appeared).String(),
			"component": "mirage-api",
			"version":   apiVersion,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		st := a.broker.Status()
		code := http.StatusOK
		if !st.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":     st.Connected,
			"uptime":    time.Since(a.appeared).String(),
			"component": "mirage-api",
			"version":   apiVersion,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": a.registry.Snapshot()})
	})

	a.router.GET("/peers/:id", func(c *gin.Context) {
		p, ok := a.registry.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	a.router.POST("/peers/:id/commands", a.dispatch)

	a.router.GET("/messages", func(c *gin.Context) {
		limit := defaultMessageLimit
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"messages": a.registry.RecentMessages(limit)})
	})

	a.router.GET("/broker", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.broker.Status())
	})

	a.router.GET("/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": a.pending.Pending()})
	})

	a.router.GET("/roster", func(c *gin.Context) {
		out, err := a.registry.ExportRoster()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/yaml", out)
	})
}

func (a *Admin) dispatch(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	env, err := a.registry.Dispatch(c.Request.Context(), c.Param("id"), req.Command)
	switch {
	case errors.Is(err, ErrUnknownPeer):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrPeerBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrEmptyCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message_id": env.MessageID,
		"peer_id":    env.PeerID,
	})
}

// Serve runs the admin HTTP server on addr until ctx is done.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("mirage admin listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
