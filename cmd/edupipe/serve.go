package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/edupipe/edupipe/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API and MCP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	fmt.Fprintf(os.Stderr, "edupipe version %s\n", version)

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Server.APIToken == "" {
		return fmt.Errorf("admin API requires a bearer token: set EDUPIPE_API_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !a.embed.IsRunning(ctx) {
		printWarning("embedding service unreachable at %s; analyze and search will degrade", a.cfg.Embedding.BaseURL)
	}

	handler := api.NewAdminHandler(api.AdminDeps{
		Runner:     a.pipe,
		Store:      a.store,
		IndexStore: a.idxStore,
		Searcher:   a.searcher,
		Token:      a.cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP over SSE on its own port.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      a.store,
		IndexStore: a.idxStore,
		Searcher:   a.searcher,
	})
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.MCPPort)
	go func() {
		fmt.Fprintf(os.Stderr, "edupipe MCP listening on %s\n", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			printError("MCP server error: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "edupipe admin API listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		printWarning("MCP shutdown: %v", err)
	}
	return srv.Shutdown(shutdownCtx)
}
