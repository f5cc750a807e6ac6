// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

//go:build unix

package main

import (
	"path/filepath"

	"go4.org/xdgdir"
)

// cacheRoot returns the stable, per-user sysroot cache directory.
func cacheRoot() string {
	return filepath.Join(xdgdir.Cache.Path(), "cargo-careful")
}
