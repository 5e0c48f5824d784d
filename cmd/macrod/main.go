// macrod runs the keyboard-bridge appliance: idle bridging of a physical
// keyboard to a USB-gadget target, hotkey-triggered recording, humanised
// playback with skill injection, and CV-driven autonomous navigation. A
// separate front-end drives it over the Unix-socket IPC protocol in
// internal/ipc.
//
// Flag-parsed bootstrap, signal-driven graceful shutdown, and a periodic
// debug-level heartbeat log line while the daemon serves connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hidrelay/macrod/internal/config"
	"github.com/hidrelay/macrod/internal/daemon"
	"github.com/hidrelay/macrod/internal/ipc"
	"github.com/hidrelay/macrod/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to macrod.toml (default: "+config.DefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "override the configured log level (debug|info|warn|error)")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("macrod %s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "macrod: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "macrod: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Component = "macrod"
	logCfg.FilePath = cfg.LogPath
	logCfg.Output = "both"
	logCfg.Level = parseLevel(cfg.LogLevel)
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "macrod: init logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)
	defer log.Close()

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		Version:   version,
		Component: "macrod",
	})

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize daemon", "err", err)
		os.Exit(1)
	}
	defer d.Close()

	server := ipc.NewServer(cfg.SocketPath, d, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer crash.RecoverGoroutine()
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("daemon loop exited", "err", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		defer crash.RecoverGoroutine()
		if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error("ipc server exited", "err", err)
			cancel()
		}
	}()

	log.Info("macrod started", "version", version, "socket", cfg.SocketPath, "record_dir", cfg.RecordDir)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			cancel()
			_ = server.Close()
			wg.Wait()
			return
		case <-ctx.Done():
			_ = server.Close()
			wg.Wait()
			return
		case <-ticker.C:
			log.Debug("heartbeat")
		}
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
