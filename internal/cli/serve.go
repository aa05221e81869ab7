package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/alert"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/server"
	"github.com/holdfast-sec/holdfast/internal/store"
	"github.com/holdfast-sec/holdfast/internal/systemd"
)

var (
	serveConfig   string
	serveSnapshot string
	serveListen   string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config YAML (default ~/.holdfast/config.yaml)")
	serveCmd.Flags().StringVar(&serveSnapshot, "snapshot", "", "Path to directory snapshot YAML (overrides config)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision daemon",
	Long: "Runs holdfast as a JSON-over-HTTP decision daemon. Platform controllers\n" +
		"ask it for workspace and agent decisions, session checks, and emergency\n" +
		"controls. The config file hot-reloads; the directory snapshot does not.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if warning := systemd.CheckUnitFileIntegrity(); warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}

	confPath := serveConfig
	if confPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			confPath = filepath.Join(home, ".holdfast", "config.yaml")
		}
	}

	conf, hash, err := config.LoadConfigWithHash(confPath)
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	snapPath := serveSnapshot
	if snapPath == "" {
		snapPath = conf.Directory.SnapshotPath
	}
	snap, err := store.LoadSnapshot(snapPath)
	if err != nil {
		return fmt.Errorf("load directory snapshot: %w", err)
	}

	chain, err := audit.OpenChain(conf.Audit.ChainPath)
	if err != nil {
		return fmt.Errorf("open audit chain: %w", err)
	}
	db, err := audit.OpenStore(conf.Audit.DBPath)
	if err != nil {
		chain.Close()
		return fmt.Errorf("open audit store: %w", err)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{
		BatchSize:     conf.Audit.BatchSize,
		FlushInterval: conf.Audit.FlushInterval,
	}, chain, db)

	engine, err := gate.New(gate.Options{
		Config:     conf,
		ConfigHash: hash,
		Directory:  snap.Directory(),
		Recorder:   recorder,
		Dispatcher: alert.NewDispatcher(conf.Alerts),
	})
	if err != nil {
		recorder.Close()
		return fmt.Errorf("build engine: %w", err)
	}
	engine.Start()
	// Closed last: the HTTP drain below must finish first so the audit
	// queue captures every served decision.
	defer engine.Close()

	srv, err := server.New(server.Options{
		Engine:   engine,
		Identity: snap,
		Audit:    db,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload watches the config file, not the snapshot.
	reloader, err := server.NewReloader(engine, confPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}
	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down decision daemon...")
		cancel()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	addr := serveListen
	if addr == "" {
		addr = conf.ListenAddr
	}

	fmt.Fprintf(os.Stderr, "holdfast decision daemon listening on %s\n", addr)
	fmt.Fprintf(os.Stderr, "Directory: %s\n", snapPath)
	fmt.Fprintf(os.Stderr, "Config: %s (%s)\n", confPath, hash)
	fmt.Fprintln(os.Stderr)

	return srv.ListenAndServe(addr)
}
