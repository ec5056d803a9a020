package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/remote-agent-hub/backend/api/handlers"
	"github.com/remote-agent-hub/backend/internal/config"
	"github.com/remote-agent-hub/backend/internal/db"
	"github.com/remote-agent-hub/backend/internal/hub"
	"github.com/remote-agent-hub/backend/internal/logger"
	"github.com/remote-agent-hub/backend/internal/model"
	"github.com/remote-agent-hub/backend/internal/repository"
	"github.com/remote-agent-hub/backend/internal/tools"
	"github.com/remote-agent-hub/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
		stdio      bool
	)

	cmd := &cobra.Command{
		Use:          "agent-hub",
		Short:        "Relay commands to browser agents connected over WebSocket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("stdio") {
				cfg.MCPStdio = stdio
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config)")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve MCP tools over stdin/stdout")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	// stdout carries MCP frames when stdio is enabled, so logs go to stderr.
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	// Connection journal
	var (
		journal hub.Journal
		history handlers.HistoryLister
	)
	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		repo := repository.NewConnectionRepository(database)
		n, err := repo.CloseDangling(ctx, model.CloseReasonServerRestart)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("closed dangling connection records", "count", n)
		}
		journal, history = repo, repo
	}

	connOpts := ws.ConnOptions{
		WriteTimeout:  cfg.WriteTimeout,
		PongTimeout:   cfg.PongTimeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}
	if len(cfg.AllowedOrigins) > 0 {
		ws.SetCheckOrigin(func(r *http.Request) bool {
			return slices.Contains(cfg.AllowedOrigins, r.Header.Get("Origin"))
		})
	}

	h := hub.New(hub.Config{
		SendQueueSize:        cfg.SendQueueSize,
		PingPeriod:           connOpts.PingPeriod(),
		BroadcastConcurrency: cfg.BroadcastConcurrency,
		DefaultChunkSize:     cfg.DefaultChunkSize,
		InboxSize:            cfg.InboxSize,
	}, journal, log)

	router := newRouter(h, history, cfg, connOpts, log)
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.MCPStdio {
		go func() {
			if err := tools.ServeStdio(ctx, tools.NewServer(h), os.Stdin, os.Stdout, log); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("mcp stdio: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err = <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked agent connections are not tracked by Shutdown.
	h.Close()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", "error", serr)
	}
	return err
}

func newRouter(h *hub.Hub, history handlers.HistoryLister, cfg config.Config, connOpts ws.ConnOptions, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"agents": h.Registry().Len(),
			"states": h.States().Len(),
		})
	})

	handlers.NewWebSocketHandler(h, handlers.WebSocketOptions{
		PathIdentity:      cfg.PathIdentity,
		GeneratedIdentity: cfg.GeneratedIdentity,
		DefaultAgentID:    cfg.DefaultAgentID,
		Conn:              connOpts,
	}).RegisterRoutes(r)

	api := r.Group("/api")
	handlers.NewAgentHandler(h, history).RegisterRoutes(api)
	return r
}

// requestLogger logs one line per HTTP request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
