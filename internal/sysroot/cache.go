// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

package sysroot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danjacques/gofslock/fslock"
	"zombiezen.com/go/log"

	"careful.build/cargo-careful/internal/rustc"
)

// A Cache decides whether an existing sysroot build can be reused and
// drives a rebuild when it cannot.
//
// The whole check-build-record sequence runs under an advisory file
// lock next to the per-variant directory, so concurrent invocations
// targeting the same variant cannot corrupt each other's artifacts.
type Cache struct {
	// Root is the cache directory holding the baseline sysroot.
	// Sanitizer variants live in Root/<variant>.
	Root      string
	Toolchain rustc.Toolchain
	Locator   *Locator
}

// EnsureParams describe the sysroot configuration one invocation needs.
type EnsureParams struct {
	Target  string
	Variant string
	// Version is the identity of the active compiler,
	// resolved once at startup.
	Version rustc.VersionMeta
	// EncodedRustflags is the encoded flag list for the synthetic build.
	EncodedRustflags string
	// Verbose streams build output (explicit setup invocations).
	Verbose bool
}

// variantRoot returns the sysroot root for the variant.
// Variants never share a directory with the baseline build.
func (c *Cache) variantRoot(variant string) string {
	if variant == "" {
		return c.Root
	}
	return filepath.Join(c.Root, variant)
}

// Ensure returns the path of a sysroot matching params,
// rebuilding it when the persisted marker does not match the current
// cache key. rebuilt reports whether a build was performed.
func (c *Cache) Ensure(ctx context.Context, params EnsureParams) (path string, rebuilt bool, err error) {
	srcDir, err := c.Locator.Resolve(ctx)
	if err != nil {
		return "", false, err
	}

	dir := Dir{Root: c.variantRoot(params.Variant), Target: params.Target}
	if err := os.MkdirAll(dir.Root, 0o777); err != nil {
		return "", false, err
	}

	lock, err := fslock.Lock(dir.Root + ".lock")
	if err != nil {
		if errors.Is(err, fslock.ErrLockHeld) {
			return "", false, fmt.Errorf("sysroot %s is locked by another cargo-careful invocation", dir.Root)
		}
		return "", false, fmt.Errorf("lock sysroot %s: %w", dir.Root, err)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("unlock sysroot %s: %w", dir.Root, unlockErr)
		}
	}()

	key := ComputeKey(srcDir, params.Version.CommitHash, params.Variant)
	if dir.Fresh(key) {
		log.Debugf(ctx, "sysroot %s is fresh (key %s)", dir.Root, key)
		return dir.Path(), false, nil
	}

	builder := &Builder{Toolchain: c.Toolchain}
	err = builder.Build(ctx, dir, srcDir, BuildOptions{
		Variant:          params.Variant,
		EncodedRustflags: params.EncodedRustflags,
		NoStd:            NoStdTarget(params.Target),
		Verbose:          params.Verbose,
	})
	if err != nil {
		return "", false, err
	}
	// Only a recorded marker makes the artifacts reusable:
	// a failed write here must surface as a build failure.
	if err := dir.Record(key); err != nil {
		return "", false, fmt.Errorf("record sysroot cache key: %w", err)
	}
	return dir.Path(), true, nil
}
