package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"odataview/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference OData service",
	Long: `Serve runs a sqlite backed OData service. Entity sets and their seed
files come from entity_sets in odataview.yaml:

  entity_sets:
    - name: Products
      keys: [Id]
      seed: products.json
      properties:
        - {name: Id, type: number}
        - {name: Name, type: string}
        - {name: Ordered, type: date}

Example:
  odataview serve --addr :8080 --odata-version 2 --max-page-size 50`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String(cfgKeyAddr, ":8080", "listen address")
	serveCmd.Flags().String(cfgKeyDB, ":memory:", "sqlite database path")
	serveCmd.Flags().Int(cfgKeyVersion, 4, "response dialect: 2 (d.results) or 4 (value)")
	serveCmd.Flags().Int(cfgKeyMaxPageSize, 0, "server-driven page size, 0 to disable")
	serveCmd.Flags().String(cfgKeyBasePath, "/odata", "service root path")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := server.NewSqliteStore()
	if err := store.Open(ctx, cfg.GetString(cfgKeyDB)); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	serverCfg := server.DefaultConfig()
	if version := cfg.GetInt(cfgKeyVersion); version != 0 {
		serverCfg.Version = version
	}
	serverCfg.MaxPageSize = cfg.GetInt(cfgKeyMaxPageSize)
	serverCfg.BasePath = cfg.GetString(cfgKeyBasePath)
	serverCfg.Registry = registry
	srv, err := server.New(ctx, store, serverCfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := registerSets(ctx, srv, cfg); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.GetString(cfgKeyAddr),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("odata service listening",
			"addr", httpServer.Addr,
			"base_path", serverCfg.BasePath,
			"version", serverCfg.Version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// registerSets creates the configured entity sets and seeds the empty ones.
func registerSets(ctx context.Context, srv *server.Server, v *viper.Viper) error {
	sets, err := entitySets(v)
	if err != nil {
		return err
	}
	for _, set := range sets {
		es, err := srv.Register(ctx, set.EntitySetDef)
		if err != nil {
			return fmt.Errorf("register %s: %w", set.Name, err)
		}
		if set.Seed == "" {
			continue
		}
		result, err := es.Query(ctx, server.Query{}, 1)
		if err != nil {
			return fmt.Errorf("count %s: %w", set.Name, err)
		}
		if result.Count > 0 {
			continue
		}
		data, err := os.ReadFile(set.Seed)
		if err != nil {
			return fmt.Errorf("read seed %s: %w", set.Seed, err)
		}
		n, err := es.Seed(ctx, data)
		if err != nil {
			return fmt.Errorf("seed %s: %w", set.Name, err)
		}
		slog.Info("entity set seeded", "set", set.Name, "items", n)
	}
	return nil
}
