package main

import (
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/ark-network/coinjoin/internal/app-config"
	"github.com/ark-network/coinjoin/internal/config"
	httpservice "github.com/ark-network/coinjoin/internal/interface/http"
	log "github.com/sirupsen/logrus"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	svcConfig := httpservice.Config{
		Port: cfg.Port,
	}
	appConfig := &appconfig.Config{
		DbType:                cfg.DbType,
		DbDir:                 cfg.DbDir,
		Network:               cfg.Network,
		SchedulerType:         cfg.SchedulerType,
		CoordinatorURL:        cfg.CoordinatorURL,
		MiddlewareURL:         cfg.MiddlewareURL,
		CoordinatorIdentifier: cfg.CoordinatorIdentifier,
		PollInterval:          cfg.PollInterval,
		RegistrationMargin:    cfg.RegistrationMargin,
		RequestTimeout:        cfg.RequestTimeout,
		ExtendedKey:           cfg.ExtendedKey,
		ScriptType:            cfg.ScriptType,
	}
	svc, err := httpservice.NewService(svcConfig, appConfig)
	if err != nil {
		log.Fatal(err)
	}

	log.RegisterExitHandler(svc.Stop)

	log.WithField("version", version).Info("starting service...")
	if err := svc.Start(); err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
