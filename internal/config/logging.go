package config

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogger выставляет уровень и формат logrus-логгера.
func (l LoggingConfig) ConfigureLogger(logger *log.Logger) error {
	level, err := log.ParseLevel(strings.TrimSpace(l.Level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)

	switch l.Format {
	case LogFormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	case LogFormatText, "":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unsupported log format %q", l.Format)
	}
	return nil
}
