package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the panel's YAML config file.
type Config struct {
	Listen         string `yaml:"listen"`
	Controller     string `yaml:"controller"`
	RequestTimeout string `yaml:"request_timeout"`

	requestTimeout time.Duration
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		Listen:         ":8081",
		Controller:     "http://127.0.0.1:8080",
		RequestTimeout: "15s",
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if strings.TrimSpace(cfg.Controller) == "" {
		return cfg, fmt.Errorf("controller URL required")
	}
	d, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil || d <= 0 {
		d = 15 * time.Second
	}
	cfg.requestTimeout = d
	return cfg, nil
}
