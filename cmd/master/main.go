package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/codernetes/internal/app"
	"github.com/yungbote/codernetes/internal/logger"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	master, err := app.New(ctx, log)
	if errors.Is(err, app.ErrNothingToDo) {
		log.Warn("Nothing to run: both listeners are disabled")
		os.Exit(1)
	}
	if err != nil {
		log.Error("Startup failed", "error", err)
		os.Exit(2)
	}

	if err := master.Run(ctx); err != nil {
		log.Error("Master exited with error", "error", err)
		os.Exit(2)
	}
	log.Info("Master stopped cleanly")
}
