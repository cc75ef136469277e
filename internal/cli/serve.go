package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/engine"
	"github.com/engramdb/engram/internal/server"
	"github.com/engramdb/engram/internal/store"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.New(db, cfg.Memory)
	configureEmbedder(eng, db, cfg.Embedding)
	eng.StartConsolidationTimer()
	defer eng.Stop()

	if eng.Embedder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if n, err := eng.EmbedMissing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "embed missing: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "  embedded %d missing memories\n", n)
			}
		}()
	}

	srv := server.New(eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "engram serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// configureEmbedder picks an embedding provider per config: ollama when
// requested or reachable, TF-IDF otherwise. A failed TF-IDF init leaves the
// engine without an embedder; recall then runs on activation alone.
func configureEmbedder(eng *engine.Engine, db *store.DB, cfg config.EmbeddingConfig) {
	useOllama := cfg.Provider == "ollama" ||
		(cfg.Provider == "" && engine.ProbeOllama(cfg.OllamaURL, cfg.Model))

	if useOllama {
		eng.SetEmbedder(engine.NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, 768))
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", cfg.Model)
		return
	}

	emb, err := engine.NewTFIDFEmbedder(db, cfg.MaxTerms)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", err)
		return
	}
	eng.SetEmbedder(emb)
	fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
}
