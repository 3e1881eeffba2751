// Command sheetcache runs a cache instance with its admin API and metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/cache"
	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/config"
	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/metrics"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/api"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configFile = flag.String("config", "", "path to a YAML configuration file")
		envFile    = flag.String("env-file", "", "path to a .env file (default ./.env if present)")
		warmDir    = flag.String("warm-dir", "", "directory of files to cache at startup")
		logLevel   = flag.String("log-level", "", "override the configured log level")
		address    = flag.String("addr", "", "override the admin API address")
	)
	flag.Parse()

	if err := run(*configFile, *envFile, *warmDir, *logLevel, *address); err != nil {
		fmt.Fprintf(os.Stderr, "sheetcache: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile, warmDir, logLevel, address string) error {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return err
		}
	}
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := cfg.LoadFromEnv(envFiles...); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if address != "" {
		cfg.API.Address = address
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
		Path:      cfg.Metrics.Path,
	})
	if err != nil {
		return err
	}

	cacheCfg, err := cfg.ToCacheConfig()
	if err != nil {
		return err
	}
	mgr := cache.Open(ctx, cacheCfg, cfg.ToStoreConfig(),
		cache.WithLogger(logger),
		cache.WithMetrics(collector))
	defer func() {
		if err := mgr.Destroy(); err != nil {
			logger.Warn("cache shutdown incomplete", map[string]interface{}{"error": err})
		}
	}()

	logger.Info("cache started", map[string]interface{}{
		"instance":     mgr.InstanceID(),
		"capabilities": mgr.Capabilities(),
		"backend":      cfg.Store.Backend,
		"memory_limit": utils.FormatBytes(cacheCfg.MaxMemorySize),
		"memory_items": cacheCfg.MaxMemoryItems,
	})

	if warmDir != "" {
		files, err := readWarmFiles(warmDir)
		if err != nil {
			return err
		}
		result := mgr.WarmCache(ctx, files)
		logger.Infof("warmed %d of %d files from %s", result.Warmed, len(files), warmDir)
		if result.Err != nil {
			logger.Warn("cache warm-up had failures", map[string]interface{}{
				"failed": result.Failed,
				"error":  result.Err,
			})
		}
	}

	if !cfg.API.Enabled {
		if cfg.Metrics.Enabled {
			logger.Warnf("metrics are enabled but the API is disabled; %s is not served", cfg.Metrics.Path)
		}
		<-ctx.Done()
		return nil
	}

	var opts []api.ServerOption
	if collector.Enabled() {
		opts = append(opts,
			api.WithMetricsHandler(cfg.Metrics.Path, collector.Handler()),
			api.WithOperations(func() any { return collector.Operations() }))
	}
	server := api.NewServer(api.ServerConfig{
		Address:      cfg.API.Address,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}, mgr, logger, opts...)
	server.StartBackground()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, func(), error) {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Global.LogFile == "" {
		return utils.NewStructuredLogger(lc), func() {}, nil
	}

	rotator, err := utils.NewLogRotator(&utils.RotationConfig{
		Filename:   cfg.Global.LogFile,
		MaxSize:    cfg.Global.LogMaxSizeMB,
		MaxBackups: cfg.Global.LogMaxBackups,
		Compress:   true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	lc.Output = rotator
	return utils.NewStructuredLogger(lc), func() { _ = rotator.Close() }, nil
}

// readWarmFiles loads the regular files directly inside dir. The file name is the id.
func readWarmFiles(dir string) ([]cache.WarmFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read warm-up directory: %w", err)
	}

	var files []cache.WarmFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		files = append(files, cache.WarmFile{ID: e.Name(), Name: e.Name(), Data: data})
	}
	return files, nil
}
