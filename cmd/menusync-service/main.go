package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/app"
	"github.com/vladislavdragonenkov/menusync/internal/config"
	"github.com/vladislavdragonenkov/menusync/internal/version"
)

// setupLogger применяет уровень и формат логов из конфигурации.
func setupLogger(cfg config.LoggingConfig) {
	if err := cfg.ConfigureLogger(log.StandardLogger()); err != nil {
		log.WithError(err).Warn("invalid logging config, using defaults")
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		log.SetLevel(log.InfoLevel)
	}
}

// readConfig читает YAML-файл из MENUSYNC_CONFIG_FILE и переменные окружения.
func readConfig() (config.Config, error) {
	cfg, warnings, err := config.Load(os.Getenv(config.EnvConfigFile))
	if err != nil {
		return config.Config{}, err
	}
	setupLogger(cfg.Logging)
	for _, warning := range warnings {
		log.Warn(warning)
	}
	return cfg, nil
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"build":        version.String(),
		"grpc_addr":    cfg.Service.GRPCAddr,
		"metrics_addr": cfg.Service.MetricsAddr,
		"storage":      cfg.Storage.Driver,
	}).Info("запускаем MenuSync")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("MenuSync остановлен")
}
