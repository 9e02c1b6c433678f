// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat sessions out as Markdown or JSON.
//
// # Key Types
//
//   - Exporter: converts a session to bytes in one format
//   - Options: export configuration options
//
// # Usage
//
//	exporter, err := export.ForFormat("markdown", nil)
//	path, err := export.ToFile(session, exporter, opts)
package export
