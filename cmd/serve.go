package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/api"
	"github.com/relaycore/dispatch-proxy/internal/config"
	"github.com/relaycore/dispatch-proxy/internal/dispatch"
	"github.com/relaycore/dispatch-proxy/internal/provider/antigravity"
	"github.com/relaycore/dispatch-proxy/internal/provider/codex"
	"github.com/relaycore/dispatch-proxy/internal/provider/copilot"
	"github.com/relaycore/dispatch-proxy/internal/utils"
)

var port int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch proxy server",
	Long: `Start the dispatch proxy, a local reverse proxy that fulfills
/v1/chat/completions (OpenAI-shape) and /v1/messages (Anthropic-shape)
requests by dispatching them across pooled Antigravity, Codex, and Copilot
accounts.

Example:
  dispatch-proxy serve
  dispatch-proxy serve --port 8080 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.ValidateRequiredEnvVars(); err != nil {
		return fmt.Errorf("%v\n\nSet this variable to protect your proxy endpoints:\n  export PROXY_API_KEY=your-secret-key-here\n\nThen restart the server", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if !debug {
		debug = config.GetDebugEnabled()
	}
	if debug {
		utils.SetDebug(true)
	}

	if !cmd.Flags().Changed("port") {
		port = config.GetPort()
	}

	utils.Info("Starting dispatch proxy...")
	utils.Info("Port: %d", port)
	utils.Info("Debug: %v", debug)

	store := accountstore.NewStore()
	janitor := accountstore.StartJanitor(store)
	defer janitor.Stop()

	adapters := map[string]dispatch.Adapter{
		"antigravity": antigravity.NewAdapter(),
		"codex":       codex.NewAdapter(),
		"copilot":     copilot.NewAdapter(),
	}
	engine := dispatch.NewEngine(store, adapters)

	for _, provider := range []string{"antigravity", "codex", "copilot"} {
		accounts, err := store.ListAccounts(provider)
		if err != nil {
			utils.Warn("[Server] listing %s accounts: %v", provider, err)
			continue
		}
		if len(accounts) > 0 {
			utils.Success("[Server] Loaded %d %s account(s)", len(accounts), provider)
		}
	}

	apiServer := api.NewServer(engine, store)

	timeouts := config.GetServerTimeouts()
	bindAddr := config.GetBindAddress()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", bindAddr, port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  timeouts.ReadTimeout,
		WriteTimeout: timeouts.WriteTimeout,
		IdleTimeout:  timeouts.IdleTimeout,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		utils.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			utils.Error("Server forced to shutdown: %v", err)
		}

		close(done)
	}()

	utils.Success("Server listening on http://localhost:%d", port)
	utils.Info("Press Ctrl+C to stop")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	utils.Success("Server stopped gracefully")
	return nil
}
