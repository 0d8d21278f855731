package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnemo-labs/go-memory/src/service"
)

var (
	addr     string
	engine   string
	model    string
	cacheDir string
)

var rootCmd = &cobra.Command{
	Use:   "embedsvc",
	Short: "Ollama-compatible embedding microservice",
	Long:  `Serves text embeddings over the Ollama HTTP surface (/api/pull, /api/embed) with a configurable local engine family.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the embedding service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := service.ConfigFromEnv()
		if addr != "" {
			cfg.Addr = addr
		}
		if engine != "" {
			cfg.Engine = engine
		}
		if model != "" {
			cfg.Model = model
		}
		if cacheDir != "" {
			cfg.CacheDir = cacheDir
		}

		backend, err := service.NewBackend(cfg.Engine, cfg.CacheDir)
		if err != nil {
			return fmt.Errorf("configure backend: %w", err)
		}
		srv := service.NewServer(cfg, backend)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv.Warmup(ctx)
		log.Printf("listening on %s", cfg.Addr)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "bind address (default :11434, env MEMORY_SERVICE_ADDR)")
	serveCmd.Flags().StringVar(&engine, "engine", "", "engine family: fastembed or sentence_transformer (env EMBEDDING_ENGINE)")
	serveCmd.Flags().StringVar(&model, "model", "", "default model pulled at startup (env MODEL_NAME)")
	serveCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "model artifact cache directory (env CACHE_DIR)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
