package main

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/platform/env"
)

type plannerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxExecutionAge time.Duration
	ArchiveEnabled  bool
}

func plannerConfigFromEnv() (plannerConfig, error) {
	shutdownTimeout, err := env.Duration("RETRY_PLANNER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return plannerConfig{}, err
	}
	maxAge, err := env.Duration("RETRY_MAX_EXECUTION_AGE", 720*time.Hour)
	if err != nil {
		return plannerConfig{}, err
	}
	archiveEnabled, err := env.Bool("RETRY_PLAN_ARCHIVE_ENABLED", true)
	if err != nil {
		return plannerConfig{}, err
	}
	cfg := plannerConfig{
		Addr:            env.String("RETRY_PLANNER_HTTP_ADDR", ":8086"),
		ShutdownTimeout: shutdownTimeout,
		MaxExecutionAge: maxAge,
		ArchiveEnabled:  archiveEnabled,
	}
	if err := cfg.Validate(); err != nil {
		return plannerConfig{}, err
	}
	return cfg, nil
}

func (c plannerConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("RETRY_PLANNER_HTTP_ADDR is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("RETRY_PLANNER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MaxExecutionAge < 24*time.Hour {
		return errors.New("RETRY_MAX_EXECUTION_AGE must be at least 24h")
	}
	return nil
}
