package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"hidden-walnuts/server/internal/app"
	"hidden-walnuts/server/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{Server: cfg}); err != nil {
		log.Fatalf("%v", err)
	}
}
