package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tpgainz/companyatlas/runner"
)

func main() {
	if _, err := os.Stat("/.dockerenv"); os.IsNotExist(err) {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("Error loading .env file (continuing without it)", "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runner.Banner(os.Stderr)

	code := runner.Execute(ctx, runner.NewRegistry(), os.Args[1:], os.Stdout, os.Stderr)

	cancel()

	os.Exit(code)
}
