// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the rigchat packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync, used by config saves
//   - TruncateRunes: UTF-8 safe truncation with ellipsis, used for previews
//   - KeyFingerprint: short SHA-256 fingerprint for secrets that must never be logged
package util
