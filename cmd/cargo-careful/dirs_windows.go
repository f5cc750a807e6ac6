// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
)

// cacheRoot returns the stable, per-user sysroot cache directory.
func cacheRoot() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "cargo-careful")
}
