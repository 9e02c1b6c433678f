// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter streaming chat engine.
//
// OpenRouter exposes many LLM providers through one chat-completions API.
// This package builds request payloads, consumes the server-sent event
// stream token by token, commits finished turns to the session store and
// reconciles the billed cost of each generation in the background.
//
// # Key Types
//
//   - StreamingClient: drives one chat exchange per Send call
//   - ResponseHandler: callbacks OnStart, OnToken, OnComplete or OnError, OnCostUpdate
//   - StreamParser: line-oriented SSE state machine
//   - CostReconciler: retrying lookup of a generation's billed cost
//   - ContextFiles: insertion-ordered reference to content map
//
// # Usage
//
//	client := cloud.NewStreamingClient(store, settings, cloud.WithLogger(logger))
//	client.Send(ctx, session.DefaultSessionID, "Hello", nil, settings.Settings().Options(), handler)
//	client.Wait() // drain background cost lookups
//
// # Security
//
// API keys are never logged; a SHA-256 fingerprint identifies the key in
// log lines instead. All requests use TLS 1.2+.
package cloud
