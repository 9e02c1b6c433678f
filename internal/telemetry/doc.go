// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides cost tracking and metrics for rigchat.
//
// # Key Types
//
//   - CostTracker: per-session totals of reconciled generation costs
//   - Metrics: Prometheus counters for requests, tokens and cost lookups
//
// Both types are safe for concurrent use. A nil *Metrics is valid and
// records nothing, so callers never need to guard metric calls.
package telemetry
