package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/kenryalonzo/doualairblog-auth/app"
	"github.com/kenryalonzo/doualairblog-auth/config"
	"github.com/kenryalonzo/doualairblog-auth/logging"
)

func main() {
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Debug().Msg("no .env file loaded")
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
