package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	relay "github.com/putto11262002/relay/app"
)

func main() {
	ctx, _ := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	app := relay.New(ctx, nil)
	if err := app.Start(); err != nil {
		os.Exit(1)
	}
}
