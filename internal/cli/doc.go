// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigchat command line interface.
//
// # Commands
//
//   - chat: interactive REPL with session switching and @file references
//   - ask: one-shot question, streamed to stdout
//   - sessions: list, create, switch, clear, delete, rename, show and export sessions
//   - config: show, get and set configuration values
//   - models: list configured or remote models
//   - version: print build information
//
// Every command shares one wiring path (openApp) so the REPL and the
// one-shot commands observe the same configuration and session database.
package cli
