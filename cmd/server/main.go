package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"collabrun/internal/bootstrap"
)

func main() {
	mode := flag.String("mode", string(bootstrap.ModeAll), "process mode: all, http, or worker")
	flag.Parse()

	app, err := bootstrap.NewApp()
	if err != nil {
		logrus.Fatalf("failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Start(ctx, bootstrap.Mode(*mode))

	<-ctx.Done()
	logrus.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)
}
