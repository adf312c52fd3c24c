package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/tapevault/tapevault/internal/catalog"
	"github.com/tapevault/tapevault/internal/changer"
	"github.com/tapevault/tapevault/internal/config"
	"github.com/tapevault/tapevault/internal/fetcher"
	"github.com/tapevault/tapevault/internal/indexer"
	"github.com/tapevault/tapevault/internal/logging"
	"github.com/tapevault/tapevault/internal/reconciler"
	"github.com/tapevault/tapevault/internal/tape"
	"github.com/tapevault/tapevault/internal/vfs"
	"github.com/tapevault/tapevault/internal/web"
)

var version = "0.1.0"

func main() {
	mountPoint := flag.String("mount-point", "/mnt/tape-vault", "Where to mount the vault's virtual filesystem")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tapevaultd v%s\n", version)
		os.Exit(0)
	}

	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("starting tapevaultd", map[string]interface{}{
		"version":     version,
		"mount_point": *mountPoint,
	})

	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to open catalog", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	runner := changer.NewRunner(logger)
	changerIface := changer.NewInterface(cfg.Changer.Device, runner)
	mounter := tape.NewLTFSMounter(cfg.Tape.Device, runner)
	orchestrator := tape.New(changerIface, mounter, cfg.Cache.MountBase, logger)
	ix := indexer.New(orchestrator, store)
	rec := reconciler.New(changerIface, store, ix, logger)
	ft := fetcher.New(cfg.Cache.CacheRoot(), orchestrator, changerIface)

	logger.Info("reconciling catalog against live inventory", nil)
	if err := rec.Reconcile(context.Background()); err != nil {
		logger.Error("startup reconciliation failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if cfg.Reconcile.Schedule != "" {
		c, err := rec.StartPeriodic(context.Background(), cfg.Reconcile.Schedule)
		if err != nil {
			logger.Error("failed to schedule periodic reconciliation", map[string]interface{}{"error": err.Error()})
		} else if c != nil {
			defer c.Stop()
		}
	}

	if err := os.MkdirAll(*mountPoint, 0755); err != nil {
		logger.Error("failed to create mount point", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	root := vfs.NewRoot(store, ft)
	server, err := fs.Mount(*mountPoint, root, vfs.Options())
	if err != nil {
		logger.Error("failed to mount virtual filesystem", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	webServer := web.NewServer(store, logger, cfg.Web.AdminToken)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Web.Port,
		Handler:      webServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting web view", map[string]interface{}{"port": cfg.Web.Port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("web server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("web server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	if err := server.Unmount(); err != nil {
		logger.Error("failed to unmount virtual filesystem", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	orchestrator.Shutdown(ctx)

	logger.Info("tapevaultd shutdown complete", nil)
}
