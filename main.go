package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tutortoise/fpga-inference-service/config"
	"github.com/Tutortoise/fpga-inference-service/detections"
	"github.com/Tutortoise/fpga-inference-service/logger"
	"github.com/Tutortoise/fpga-inference-service/staging"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func newAppState(cfg *config.Config, log *logger.Logger) *AppState {
	return &AppState{
		Accelerator: cfg.Accelerator,
		MaxFrame:    cfg.Server.MaxFrameBytes,
		Gate:        NewGate(),
		Stager: staging.NewStager(staging.Config{
			WorkDir:      cfg.Accelerator.WorkDir,
			InputName:    cfg.Accelerator.InputName,
			ResizeWidth:  cfg.Staging.ResizeWidth,
			ResizeHeight: cfg.Staging.ResizeHeight,
			MinFreeBytes: cfg.Staging.MinFreeBytes,
		}),
		Invoker: detections.NewInvoker(),
		Extract: detections.Extract,
		Logger:  log,
	}
}

func run(configPath string) error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if info, err := os.Stat(cfg.Accelerator.WorkDir); err != nil || !info.IsDir() {
		log.Warn("Accelerator work dir is not accessible, requests will fail until it is",
			"work_dir", cfg.Accelerator.WorkDir)
	}

	state := newAppState(cfg, log)

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Server.Addr,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting server",
			"addr", srv.Addr,
			"work_dir", cfg.Accelerator.WorkDir,
			"executable", cfg.Accelerator.Executable)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fpga-inference-service: %v\n", err)
		os.Exit(1)
	}
}
