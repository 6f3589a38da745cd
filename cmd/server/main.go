/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the honey certification engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire the token ledger, verifier client and committer
  4. Configure HTTP router and start the expiry sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port              HTTP server port (default: 8080)
  -db                SQLite database path (default: certify.db)
                     Use ":memory:" for in-memory database
  -verifier-url      Document verification service base URL
                     (empty: verification passes everything, dev only)
  -verifier-timeout  Per-verification request timeout (default: 15s)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/certify.db"

  # Run with in-memory database and a real verifier
  ./server -db=":memory:" -verifier-url="http://verifier:9000"

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivemark/certification-engine/api"
	"github.com/hivemark/certification-engine/engine"
	"github.com/hivemark/certification-engine/store/sqlite"
	"github.com/hivemark/certification-engine/verify"
)

// passVerifier accepts every document. Development fallback when no
// verification service is configured.
type passVerifier struct{}

func (passVerifier) Verify(ctx context.Context, kind engine.ReportKind, filename string, data []byte) error {
	log.Printf("[Verifier] No service configured, passing %s %q", kind, filename)
	return nil
}

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "certify.db", "SQLite database path")
	verifierURL := flag.String("verifier-url", "", "document verification service base URL")
	verifierTimeout := flag.Duration("verifier-timeout", 15*time.Second, "verification request timeout")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine
	tokens := engine.NewTokenLedger(store)
	tokens.Subscribe(func(e engine.TokenEvent) {
		log.Printf("[Tokens] %s %d, balance now %d", e.Action, e.Amount, e.NewBalance)
	})

	var verifier engine.DocumentVerifier = passVerifier{}
	if *verifierURL != "" {
		verifier = verify.NewClient(*verifierURL, verify.WithTimeout(*verifierTimeout))
	}

	// No profile service wired yet; any non-empty actor id passes.
	profiles := engine.ProfileCheckerFunc(func(ctx context.Context, actorID string) (bool, error) {
		return actorID != "", nil
	})

	committer := engine.NewCertificationCommitter(store, tokens, verifier, profiles)

	// Initialize handler
	handler := api.NewHandler(store, tokens, committer)
	handler.ResetStore = store.Reset

	// Create router
	router := api.NewRouter(handler)

	// Start the expiry sweeper
	sweeper := api.NewExpirySweeper(store)
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🍯 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
