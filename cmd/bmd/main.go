package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rexliu/davmark/pkg/config"
	"github.com/rexliu/davmark/pkg/ipc"
	"github.com/rexliu/davmark/pkg/kv"
	"github.com/rexliu/davmark/pkg/logging"
	"github.com/rexliu/davmark/pkg/scheduler"
	"github.com/rexliu/davmark/pkg/snapshot"
	"github.com/rexliu/davmark/pkg/storage/sqlite"
	"github.com/rexliu/davmark/pkg/syncer"
	gitvcs "github.com/rexliu/davmark/pkg/vcs/git"
	"github.com/rexliu/davmark/pkg/webdav"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	cfg, err := config.LoadProfile(*profile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "config not found in %s (run 'davmark init --profile %s')\n", *profile, *profile)
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		}
		os.Exit(1)
	}
	logCfg := cfg.Logging
	logCfg.FilePath = config.ResolvePath(*profile, logCfg.FilePath)
	logger, closer, err := logging.New("bmd", logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	logger.Info("starting daemon", "profile", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, cfg, logger); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

type daemon struct {
	profileDir string
	cfg        *config.ProfileConfig
	store      *sqlite.Store
	snapshots  *snapshot.Store
	remote     *webdav.Client
	engine     *syncer.Engine
	repo       *gitvcs.Repo
	sched      *scheduler.Scheduler
	changes    *changeHub
	logger     *slog.Logger
}

func run(ctx context.Context, profileDir, socketOverride string, cfg *config.ProfileConfig, logger *slog.Logger) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	dbPath := config.ResolvePath(profileDir, cfg.Storage.DBPath)
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}

	d := &daemon{
		profileDir: profileDir,
		cfg:        cfg,
		store:      store,
		snapshots:  snapshot.NewStore(store.KV(), cfg.Sync.SnapshotCapacity),
		sched:      scheduler.New(logger.With("component", "scheduler")),
		changes:    newChangeHub(logger),
		logger:     logger,
	}
	defer d.sched.Stop()

	if cfg.VCS.Enabled {
		repo, err := gitvcs.Open(profileDir, gitvcs.Options{
			Branch:    cfg.VCS.Branch,
			RemoteURL: cfg.VCS.Remote.URL,
		})
		if err != nil {
			logger.Warn("history journal disabled", "err", err)
		} else {
			d.repo = repo
		}
	}
	if err := d.setupSync(kv.NewMemory()); err != nil {
		return err
	}

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}

	srv := ipc.NewServer(logger.With("component", "ipc"))
	d.registerHandlers(srv)
	if err := srv.Start(ctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer func() {
		srv.Stop()
		cleanupSocket(socketPath)
	}()

	stopWatch, err := d.watchStore(ctx, dbPath)
	if err != nil {
		logger.Warn("database watcher disabled", "err", err)
	} else {
		defer stopWatch()
	}
	d.startAutoSync(ctx)

	logger.Info("daemon ready", "socket", socketPath, "remote", cfg.RemoteConfigured())
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

func pingHandler(logger *slog.Logger) ipc.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
		now := time.Now().UnixMilli()
		logger.Debug("received ping", "now", now)
		return map[string]any{"now": now}, nil
	}
}

func (d *daemon) snapshotPath() string {
	return filepath.Join(d.profileDir, "snapshot.json")
}
