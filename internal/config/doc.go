// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// Configuration file locations (in order of precedence):
//   - ~/.rigchat/config.toml
//   - ~/.rigchat/config.json
//   - Built-in defaults
//
// Environment variables override file values; see ApplyEnvOverrides.
//
// # Key Types
//
//   - Config: the complete configuration tree
//   - Live: thread-safe holder that feeds provider settings to the chat engine
//
// # Usage
//
//	cfg, err := config.LoadFromPath(path)
//	live := config.NewLive(cfg, path)
//	go config.Watch(ctx, live, logger)
//
// # Security
//
// Config files hold the API key and are written with 0600 permissions.
// String() redacts the key.
package config
