package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/johbar/ocr-workbench/internal/config"
	"github.com/johbar/ocr-workbench/internal/session"
	"github.com/johbar/ocr-workbench/internal/workbench"
	"github.com/johbar/ocr-workbench/pkg/dehyphenator"
	"github.com/johbar/ocr-workbench/pkg/tesswrap"
)

var logger *slog.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{}))

func main() {
	cfg, err := config.NewWorkbenchConfigFromEnv()
	if err != nil {
		logger.Error("Fatal: could not load configuration", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args
	// one shot mode: don't start a server, just process a single image provided on the command line
	if len(args) > 1 {
		code := runOneShot(ctx, cfg, args[1:])
		stop()
		os.Exit(code)
	}

	logger = cfg.Logger()
	if os.Getenv("GOMEMLIMIT") != "" {
		logger.Info("GOMEMLIMIT", "Bytes", debug.SetMemoryLimit(-1), "MBytes", debug.SetMemoryLimit(-1)/1024/1024)
	}
	buildinfo, _ := debug.ReadBuildInfo()
	logger.Debug("Info", "buildinfo", buildinfo)

	engineOpts := engineOptions(cfg, logger)
	ctrl := newController(cfg, engineOpts, logger)
	installed := func(ctx context.Context) ([]string, error) {
		return tesswrap.AvailableLanguages(ctx, engineOpts)
	}
	wb := workbench.New(cfg, ctrl, logger, installed)
	if err := ctrl.Initialize(wb); err != nil {
		logger.Error("Fatal: OCR engine unavailable", "backend", tesswrap.BackendName, "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.SrvAddr,
		Handler:           wb.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutting down HTTP server", "err", err)
		}
	}()

	logger.Info("Workbench started", "address", "http://"+srv.Addr, "backend", tesswrap.BackendName, "languages", cfg.Languages)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		// Error starting or closing listener:
		logger.Error("Webserver failed", "err", err)
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Release(releaseCtx); err != nil {
		logger.Warn("Releasing OCR engine", "err", err)
	}
	logger.Info("HTTP Server stopped.")
}

func engineOptions(cfg *config.WorkbenchConfig, log *slog.Logger) tesswrap.Options {
	return tesswrap.Options{
		TesseractPath: cfg.TesseractPath,
		TessdataDir:   cfg.TessdataDir,
		PageSegMode:   cfg.PageSegMode,
		Logger:        log,
	}
}

// newController wires the configured engine backend and text post processing into a session
func newController(cfg *config.WorkbenchConfig, engineOpts tesswrap.Options, log *slog.Logger) *session.Controller {
	opts := []session.Option{
		session.WithLogger(log),
		session.WithLanguage(cfg.DefaultLanguage),
	}
	if cfg.Dehyphenate || cfg.RemoveNewlines {
		dopts := dehyphenator.Options{RemoveNewlines: cfg.RemoveNewlines}
		opts = append(opts, session.WithPostProcessor(func(text string) (string, error) {
			return dehyphenator.String(text, dopts)
		}))
	}
	return session.New(func() (tesswrap.Engine, error) {
		return tesswrap.New(engineOpts)
	}, opts...)
}
