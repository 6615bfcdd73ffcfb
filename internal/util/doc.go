// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions shared across chatrelay.
//
// This package contains common helper functions used throughout the
// application for string manipulation and file operations.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - CollapseSpaces: whitespace normalization for sanitized output
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - AppendFile: fsync-backed append for report logs
//
// # Usage
//
//	// Truncate long strings safely for delivery
//	display := util.TruncateRunes(longText, 4096)
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0644)
package util
