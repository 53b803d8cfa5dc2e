// Package logging configures logrus the way every Telegraph binary logs:
// JSON output, level from LOG_LEVEL and a service field on each entry.
package logging

import (
	"github.com/sirupsen/logrus"

	"chatworks/pkg/config"
)

// Logger is the concrete logger handed through constructors.
type Logger = *logrus.Logger

// Fields is the structured field set attached to log entries.
type Fields = logrus.Fields

// NewLogger returns a JSON logger at the configured level.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// serviceHook stamps the service name onto every entry, so log lines stay
// attributable after aggregation.
type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	e.Data["service"] = h.service
	return nil
}

// NewLoggerWithService returns a logger whose entries all carry
// service=serviceName.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(serviceHook{service: serviceName})
	return logger
}
