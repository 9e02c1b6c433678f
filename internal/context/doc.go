// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context resolves @path references in user prompts.
//
// A prompt such as "explain @internal/cloud/stream.go" names a file or
// folder relative to a base directory. The Resolver reads each reference
// and returns an insertion-ordered map from the reference text to its
// content, ready for the system message.
//
// Failures never abort a send: a reference that cannot be read resolves
// to "Error reading file: <reason>" as its content.
//
// # Key Types
//
//   - Resolver: concurrent reference resolution with size and depth limits
//   - FileCache: modification-time aware cache of file reads
//
// # Usage
//
//	r := context.NewResolver(context.DefaultConfig())
//	files, err := r.Resolve(ctx, prompt)
package context
