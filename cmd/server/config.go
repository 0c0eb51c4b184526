package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration, parsed from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RulesPath   string `env:"RULES_PATH" envDefault:"validation_rules.json"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}
