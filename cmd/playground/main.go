package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/srogmann/mcp-playground/internal/chat"
	"github.com/srogmann/mcp-playground/internal/config"
	"github.com/srogmann/mcp-playground/internal/hub"
	"github.com/srogmann/mcp-playground/internal/mcp"
	"github.com/srogmann/mcp-playground/internal/policy"
	"github.com/srogmann/mcp-playground/internal/relay"
	"github.com/srogmann/mcp-playground/internal/session"
	"github.com/srogmann/mcp-playground/internal/store"
	"github.com/srogmann/mcp-playground/internal/tool"
	"github.com/srogmann/mcp-playground/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting MCP playground...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("LLM URL: %s", cfg.LLMURL)
	log.Printf("Tool call timeout: %s (poll %s)", cfg.ToolCallTimeout, cfg.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize audit store
	auditStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer auditStore.Close()

	// Initialize policy engine
	var policyEngine *policy.Engine
	if cfg.PolicyEnabled {
		policyEngine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
		if err != nil {
			log.Fatalf("Failed to initialize policy engine: %v", err)
		}
	}

	// Optional glossary demo tool
	var glossary *tool.Glossary
	if cfg.GlossaryPath != "" {
		glossary, err = tool.LoadGlossary(cfg.GlossaryPath, "Looks up words in a glossary.")
		if err != nil {
			log.Fatalf("Failed to load glossary %s: %v", cfg.GlossaryPath, err)
		}
	}

	// Initialize relay engine and session store
	relayEngine := relay.NewEngine(cfg.ToolCallTimeout, cfg.PollInterval, auditStore)
	mcpBaseURL := fmt.Sprintf("http://localhost:%d", cfg.HTTPPort)
	sessions := session.NewStore(relayEngine, session.Options{
		MCPBaseURL: mcpBaseURL,
		Builtins:   tool.Builtins(cfg.WorkspaceRoot),
		Glossary:   glossary,
		Audit:      auditStore,
	})

	// Initialize connection hub, cancelling pending calls on disconnect
	connectionHub := hub.NewHub()
	connectionHub.OnClose(func(conn *hub.Connection) {
		sessions.OnConnectionClosed(conn)
	})
	go connectionHub.Run()

	// Initialize servers
	wsServer := ws.NewServer(cfg, connectionHub, sessions)
	mcpServer := mcp.NewServer(sessions, policyEngine)
	chatClient := chat.NewClient(cfg.LLMURL, "", 90*time.Second)
	chatHandler := chat.NewHandler(chatClient, sessions)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/ws", wsServer.HandleWebSocket)
	mcpServer.RegisterRoutes(e)
	chatHandler.RegisterRoutes(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"sessions":    sessions.Count(),
			"connections": connectionHub.ConnectionCount(),
		})
	})

	// Audited tool-call history of the cookie's session.
	e.GET("/api/calls", func(c echo.Context) error {
		userID, err := mcp.LookupUserID(c)
		if err != nil {
			return err
		}
		records, err := auditStore.ListToolCalls(c.Request().Context(), userID)
		if err != nil {
			log.Printf("WARN: failed to list tool calls for %s: %v", userID, err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tool calls")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"calls": records})
	})

	if cfg.PublicDir != "" {
		e.Static("/", cfg.PublicDir)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	e.GET("/stop.do", func(c echo.Context) error {
		log.Printf("Stop requested via /stop.do")
		quit <- syscall.SIGTERM
		return c.String(http.StatusOK, "Stopping server.")
	})

	// Optional idle-session eviction
	if cfg.SessionIdleTimeout > 0 {
		go sessions.RunIdleSweep(ctx, cfg.SessionIdleTimeout)
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Playground started on port %d", cfg.HTTPPort)

	<-quit
	log.Println("Shutting down playground...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Playground stopped")
}
