package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"fathom-crm/config"
	"fathom-crm/core/appbootstrap"
	"fathom-crm/core/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("FATHOM_CONFIG"), "path to yaml config file")
	flag.Parse()

	logger := utils.NewLogger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("config load: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := appbootstrap.Run(ctx, cfg, logger); err != nil {
		logger.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}
