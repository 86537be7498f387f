package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Config is the `logging` section of config.yaml.
type Config struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Init configures the standard logrus logger once at process start.
func Init(cfg Config) {
	logrus.SetOutput(os.Stdout)

	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logrus.WithFields(logrus.Fields{
		"level": level.String(),
		"json":  cfg.JSON,
	}).Debug("logger initialised")
}

// For returns the logger a component should hold on to.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
