package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syncview/syncview-agent/internal/api"
	"github.com/syncview/syncview-agent/internal/config"
	"github.com/syncview/syncview-agent/internal/db"
	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/export"
	"github.com/syncview/syncview-agent/internal/logging"
	"github.com/syncview/syncview-agent/internal/marker"
	"github.com/syncview/syncview-agent/internal/playback"
	"github.com/syncview/syncview-agent/internal/ui"
	"github.com/syncview/syncview-agent/internal/watch"
	"github.com/syncview/syncview-agent/internal/workspace"
)

var Version = "0.3.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ExportDir(), 0755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting syncview agent", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store := marker.NewStore(marker.NewRepository(database.Conn()), logger)

	deviceID, err := ensureDeviceID(store)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(store)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   SYNCVIEW AGENT v0.3.0                   ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	markers := marker.NewManager(store, logger)
	markers.Load(context.Background())

	runnerCfg := encoder.DefaultConfig(logger)
	runnerCfg.FFmpegPath = cfg.FFmpegPath()
	runnerCfg.FFprobePath = cfg.FFprobePath()
	runnerCfg.DetectTimeout = cfg.DetectTimeout()
	runnerCfg.EncodeTimeout = cfg.EncodeTimeout()
	runnerCfg.ProbeTimeout = cfg.ProbeTimeout()
	runner := encoder.NewRunner(runnerCfg)
	detector := encoder.NewCachedDetector(runner, logger)

	if !runner.Available() {
		logger.Warn("ffmpeg not found, clip export disabled")
	} else {
		initCtx, initCancel := context.WithTimeout(context.Background(), cfg.DetectTimeout())
		caps := detector.Get(initCtx)
		initCancel()
		logger.Info("encoders detected",
			"best", string(caps.SelectBest(cfg.HardwareEncodingDisabled())),
			"available", len(caps.Encoders),
		)
	}

	queue := export.NewQueue(cfg.QueuePath(), logger)
	engine := export.NewEngine(runner, detector, queue, cfg.ExportWorkers(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workspaceMgr := workspace.NewManager(runner, cfg.PathsPath(), logger)
	workspaceMgr.Load(ctx)

	var watcher watch.Watcher
	if fw, err := watch.NewFileWatcher(logger); err != nil {
		logger.Warn("file watcher unavailable, slot presence tracking disabled", "error", err)
		watcher = watch.NewNopWatcher()
	} else {
		watcher = fw
	}
	watcher.OnChange(func(path string, event watch.EventType) {
		workspaceMgr.SetPresent(path, event != watch.EventRemove)
	})
	watcher.Start(ctx)
	for _, path := range workspaceMgr.LoadedPaths() {
		if err := watcher.WatchFile(path); err != nil {
			logger.Warn("failed to watch slot file", "path", path, "error", err)
		}
	}

	playbackSvc := playback.NewServer(logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:             cfg.Port(),
		Version:          Version,
		Markers:          markers,
		Store:            store,
		Workspace:        workspaceMgr,
		Engine:           engine,
		Queue:            queue,
		Detector:         detector,
		Playback:         playbackSvc,
		Watcher:          watcher,
		ExportDir:        cfg.ExportDir(),
		HardwareDisabled: cfg.HardwareEncodingDisabled(),
		Logger:           logger,
		StartTime:        startTime,
		DeviceID:         deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Markers:   markers,
			Workspace: workspaceMgr,
			Engine:    engine,
			Logger:    logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	if tray != nil {
		tray.Quit()
	}

	if engine.Cancel() {
		logger.Info("cancelling in-flight export")
		deadline := time.Now().Add(5 * time.Second)
		for {
			if _, active := engine.Active(); !active {
				break
			}
			if time.Now().After(deadline) {
				logger.Warn("export still winding down at shutdown deadline")
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	if err := watcher.Stop(); err != nil {
		logger.Debug("failed to stop file watcher", "error", err)
	}

	markers.Close(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

func ensureDeviceID(store *marker.Store) (string, error) {
	ctx := context.Background()

	existing, err := store.GetMeta(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := store.SetMeta(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(store *marker.Store) (string, error) {
	ctx := context.Background()

	existing, err := store.GetMeta(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := store.SetMeta(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
