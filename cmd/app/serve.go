package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"voicestudio/internal/app/api"

	"github.com/spf13/cobra"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*cfgPath)
		},
	}
}

func serve(cfgPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfgPath, nil)
	if err != nil {
		return err
	}
	logger := a.logger

	var runs api.RunStore
	if a.journal != nil {
		runs = a.journal
	}

	handler := api.NewAPI(&a.cfg.Api, logger.WithGroup("api"), a.orch, runs, a.bus, a.reg)

	srv := &http.Server{
		Addr:           ":" + strconv.Itoa(a.cfg.Api.Port),
		Handler:        handler.NewRouter(),
		MaxHeaderBytes: 1 << 20,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		logger.Info("Starting server", "addr", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ListenAndServe finished", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
	case <-stop:
		logger.Info("Interrupt triggered")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", "err", err)
	}

	cancel()
	wg.Wait()

	// running segments finish before artifacts are cleaned
	a.close()

	return nil
}
