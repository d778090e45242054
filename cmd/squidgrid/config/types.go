// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

package config

import (
	"time"

	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
	"github.com/AleutianAI/squidgrid/services/squidgrid/session"
	"github.com/AleutianAI/squidgrid/services/squidgrid/telemetry"
)

type SquidgridConfig struct {
	// Server: where the HTTP API listens
	Server ServerConfig `yaml:"server"`

	// Storage: the on-disk artifact cache
	Storage StorageConfig `yaml:"storage"`

	// Tables: where stream tables are fetched from
	Tables TablesConfig `yaml:"tables"`

	// Engine: the external probability engine
	Engine EngineConfig `yaml:"engine"`

	// Search: history size and sequence search windows
	Search SearchConfig `yaml:"search"`

	// Beliefs: priors over the RNG position, in thousands of steps.
	// Reloaded while the server runs.
	Beliefs prior.Params `yaml:"beliefs"`

	// Timer: seconds to steps regression. Reloaded while the server runs.
	Timer prior.TimerParams `yaml:"timer"`

	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required,hostname_port"` // e.g. 127.0.0.1:8090
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type StorageConfig struct {
	Dir        string        `yaml:"dir" validate:"required_unless=InMemory true"` // e.g. ~/.squidgrid/cache
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type TablesConfig struct {
	// Variant is loaded at startup when set: "small" or "big".
	Variant string `yaml:"variant,omitempty" validate:"omitempty,oneof=small big"`

	// Source can be "http", "gcs" or "file".
	Source          string `yaml:"source" validate:"oneof=http gcs file"`
	BaseURL         string `yaml:"base_url,omitempty" validate:"required_if=Source http,omitempty,url"`
	Bucket          string `yaml:"bucket,omitempty" validate:"required_if=Source gcs"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	Dir             string `yaml:"dir,omitempty" validate:"required_if=Source file"`
}

type EngineConfig struct {
	// URL is the engine base URL. Empty disables probabilities and commit.
	URL     string        `yaml:"url,omitempty" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type SearchConfig struct {
	HistoryCapacity int `yaml:"history_capacity" validate:"gte=1,lte=16"`
	OuterWindow     int `yaml:"outer_window" validate:"gte=1"`
	NestedWindow    int `yaml:"nested_window" validate:"gte=1"`
	MatchLimit      int `yaml:"match_limit" validate:"gte=1"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"` // e.g. ~/.squidgrid/logs
}

func DefaultConfig() SquidgridConfig {
	sc := session.DefaultConfig()
	return SquidgridConfig{
		Server: ServerConfig{
			Address:         "127.0.0.1:8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Dir:        "~/.squidgrid/cache",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Tables: TablesConfig{
			Source:  "http",
			BaseURL: "http://localhost:8000",
		},
		Engine: EngineConfig{
			Timeout: 30 * time.Second,
		},
		Search: SearchConfig{
			HistoryCapacity: sc.HistoryCapacity,
			OuterWindow:     sc.OuterWindow,
			NestedWindow:    sc.NestedWindow,
			MatchLimit:      sc.MatchLimit,
		},
		Beliefs:   sc.Params,
		Timer:     sc.TimerParams,
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// SessionConfig converts the search and belief sections into a session
// configuration.
func (c SquidgridConfig) SessionConfig() session.Config {
	return session.Config{
		HistoryCapacity: c.Search.HistoryCapacity,
		Params:          c.Beliefs,
		TimerParams:     c.Timer,
		OuterWindow:     c.Search.OuterWindow,
		NestedWindow:    c.Search.NestedWindow,
		MatchLimit:      c.Search.MatchLimit,
	}
}
