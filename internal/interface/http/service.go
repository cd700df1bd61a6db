package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	appconfig "github.com/ark-network/coinjoin/internal/app-config"
	interfaces "github.com/ark-network/coinjoin/internal/interface"
	"github.com/ark-network/coinjoin/internal/interface/http/handlers"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type service struct {
	config    Config
	appConfig *appconfig.Config
	server    *http.Server
	handler   handlers.Handler
}

func NewService(
	svcConfig Config, appConfig *appconfig.Config,
) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	handler := handlers.NewHandler(appConfig.AppService())
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              svcConfig.address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &service{svcConfig, appConfig, server, handler}, nil
}

func (s *service) Start() error {
	if err := s.appConfig.AppService().Start(); err != nil {
		return fmt.Errorf("failed to start app service: %s", err)
	}
	log.Info("started app service")

	s.handler.Start()
	go func() {
		if err := s.server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	log.Infof("started listening at %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.handler.Stop()
	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop http server")
	}
	log.Info("stopped http server")
	s.appConfig.AppService().Stop()
	log.Info("stopped app service")
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("handled request")
	}
}
