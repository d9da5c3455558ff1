package mainboilerplate

import (
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" yaml:"level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level (default warn)"`
	Format string `long:"format" env:"FORMAT" yaml:"format" choice:"json" choice:"text" choice:"color" description:"Logging output format (default text)"`
}

// InitLog configures the logger. Zero-valued fields take their defaults.
func InitLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if cfg.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}

	if cfg.Level == "" {
		cfg.Level = "warn"
	}
	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}
