package config

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the level and formatter to the standard logrus
// logger. Production defaults to JSON output.
func ConfigureLogging(c *Config) {
	log.SetOutput(os.Stdout)

	format := c.LogFormat
	if format == "" && c.IsProduction() {
		format = "json"
	}
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
