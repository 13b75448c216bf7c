package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/convograph/convograph/internal/api"
	"github.com/convograph/convograph/internal/config"
	"github.com/convograph/convograph/internal/graph"
	"github.com/convograph/convograph/internal/ingest"
	"github.com/convograph/convograph/internal/query"
	"github.com/convograph/convograph/internal/routing"
	"github.com/convograph/convograph/internal/stats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and event pipeline",
	Run:   runServe,
}

// openStack opens the store and the aggregation engine from config.
func openStack(cfg *config.Config) (*graph.Store, *stats.Engine, error) {
	path, err := config.ExpandPath(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, err
	}
	store, err := graph.Open(path, graph.Options{AcceptOutOfOrder: cfg.Store.AcceptOutOfOrder})
	if err != nil {
		return nil, nil, err
	}
	engine, err := stats.NewEngine(store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, engine, nil
}

func routingConfig(cfg *config.Config) routing.Config {
	return routing.Config{
		HalfLife:     cfg.Routing.HalfLife(),
		NeutralPrior: cfg.Routing.NeutralPrior,
	}
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🌐 ConvoGraph Server")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	store, engine, err := openStack(cfg)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := ingest.NewEventBus(cfg.Ingest.BufferSize)
	pipe := ingest.NewPipeline(store, engine)
	go pipe.Run(ctx, bus)

	if cfg.Kafka.Enabled {
		src := ingest.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, bus)
		src.Start(ctx)
		defer src.Close()
		fmt.Printf("Kafka source: %s topic=%s group=%s\n", cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	svc := query.NewService(store, engine, routingConfig(cfg))
	router := api.NewRouter(logger, svc, pipe, &api.SnapshotHandler{Store: store, Engine: engine})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Listening on %s\n", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Shutdown error: %v\n", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	}
}
