package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sidegrid/sidegrid/internal/config"
	"github.com/sidegrid/sidegrid/internal/dispatch"
	"github.com/sidegrid/sidegrid/internal/history"
	"github.com/sidegrid/sidegrid/internal/hub"
	"github.com/sidegrid/sidegrid/internal/lock"
	"github.com/sidegrid/sidegrid/internal/render"
	"github.com/sidegrid/sidegrid/internal/session"
	"github.com/sidegrid/sidegrid/internal/store"
	"github.com/sidegrid/sidegrid/internal/stream"
	"github.com/sidegrid/sidegrid/internal/web"
	"github.com/sidegrid/sidegrid/internal/webdriver"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidegrid",
		Short: "Executes Selenium IDE scripts against a warm Selenium Grid session pool",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("script-dir", "./storage/sides", "directory for stored .side scripts")
	f.String("lock-dir", "./storage/locks", "directory for session lock files")
	f.String("js-dir", "./storage/js", "directory for jsFile template snippets")
	f.String("db-path", "./storage/sidegrid.db", "path to the execution history database")
	f.String("grid-url", "http://localhost:4444", "Selenium Grid hub URL")
	f.String("browser-name", "chrome", "browser to request for pooled sessions")
	f.String("http-addr", ":8080", "HTTP listen address")
	f.Int("pool-init-timeout-s", 30, "seconds to wait for the grid during warm-up")
	f.Int("default-lock-ttl-s", 300, "lock TTL in seconds for one execution")
	f.Int("stream-lock-ttl-s", 3600, "lock TTL in seconds for pinned connections")
	f.Int("lock-wait-s", 30, "seconds a targeted execution waits for a busy session")
	f.Int("implicit-wait-s", 10, "per-command element wait in seconds")

	// Bind flags to viper. Viper keys use underscores (grid_url) so they
	// match the env var suffix after stripping the SIDEGRID_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("script_dir", "script-dir")
	bindFlag("lock_dir", "lock-dir")
	bindFlag("js_dir", "js-dir")
	bindFlag("db_path", "db-path")
	bindFlag("grid_url", "grid-url")
	bindFlag("browser_name", "browser-name")
	bindFlag("http_addr", "http-addr")
	bindFlag("pool_init_timeout_s", "pool-init-timeout-s")
	bindFlag("default_lock_ttl_s", "default-lock-ttl-s")
	bindFlag("stream_lock_ttl_s", "stream-lock-ttl-s")
	bindFlag("lock_wait_s", "lock-wait-s")
	bindFlag("implicit_wait_s", "implicit-wait-s")

	// SIDEGRID_GRID_URL -> grid_url, SIDEGRID_HTTP_ADDR -> http_addr, etc.
	viper.SetEnvPrefix("SIDEGRID")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	fmt.Printf("sidegrid %s starting\n", config.Version)
	fmt.Printf("  Grid: %s (%s)\n", cfg.GridURL, cfg.BrowserName)
	fmt.Printf("  Scripts: %s\n", cfg.ScriptDir)
	fmt.Printf("  Locks: %s\n", cfg.LockDir)
	fmt.Printf("  History: %s\n", cfg.DBPath)
	fmt.Printf("  Listen: %s\n", cfg.HTTPAddr)
	fmt.Println()

	scripts, err := store.New(cfg.ScriptDir)
	if err != nil {
		return fmt.Errorf("script store: %w", err)
	}
	locks, err := lock.New(cfg.LockDir)
	if err != nil {
		return fmt.Errorf("lock repository: %w", err)
	}
	db, err := history.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The pool warms in the background; requests arriving before warm-up
	// completes see whatever sessions are already open.
	grid := webdriver.NewClient(cfg.GridURL)
	pool := session.New(grid, cfg.BrowserName, time.Duration(cfg.PoolInitTimeout)*time.Second)
	pool.Warm(ctx)

	events := hub.New()
	dsp := dispatch.New(scripts, render.New(cfg.JSDir), locks, pool, db, events, dispatch.Options{
		RunTTL:       time.Duration(cfg.DefaultLockTTL) * time.Second,
		StreamTTL:    time.Duration(cfg.StreamLockTTL) * time.Second,
		LockWait:     time.Duration(cfg.LockWait) * time.Second,
		ImplicitWait: time.Duration(cfg.ImplicitWait) * time.Second,
	})
	ws := stream.NewManager(dsp)
	srv := web.New(cfg.HTTPAddr, scripts, pool, locks, dsp, db, events, ws)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down...", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}

	// Websocket connections are hijacked, so srv.Shutdown does not wait
	// for them; tear them down explicitly to release their session locks.
	ws.Shutdown()
	pool.Shutdown(shutdownCtx)

	return nil
}
