// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

// Package sysroot builds and caches an instrumented Rust standard
// library in an on-disk layout the toolchain accepts as a sysroot.
//
// A sysroot directory holds lib/rustlib/<target>/lib with the compiled
// library artifacts and a marker file recording the cache key of the
// configuration that produced them. Sanitizer builds live in their own
// directory so they never share artifacts with the baseline build.
package sysroot

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"careful.build/cargo-careful/internal/osutil"
)

// Sentinel errors for sysroot construction.
// All of them are fatal for the invocation; none are retried.
var (
	// ErrSourceNotFound indicates an explicitly configured source tree
	// does not contain the standard library.
	ErrSourceNotFound = errors.New("rust standard library sources not found")
	// ErrSourceMissing indicates the toolchain's source component is absent
	// even after the single remediation attempt.
	ErrSourceMissing = errors.New("rust standard library sources are missing")
	// ErrLockfileMissing indicates the source tree carries no dependency
	// lock file, so the synthetic build cannot resolve deterministically.
	ErrLockfileMissing = errors.New("standard library lockfile is missing")
	// ErrBuildFailed indicates the synthetic compilation exited non-zero.
	ErrBuildFailed = errors.New("sysroot build failed")
	// ErrCopyFailed indicates artifact materialization into the sysroot failed.
	ErrCopyFailed = errors.New("sysroot artifact copy failed")
)

// markerName is the marker file recording the cache key of the
// artifacts currently in the target directory.
const markerName = ".careful-hash"

// A Key identifies one exact sysroot configuration.
// Two invocations with equal keys produce interchangeable sysroots.
type Key string

// ComputeKey derives the cache key for a sysroot configuration.
// The inputs are hashed in a fixed order:
// source tree path, compiler commit hash, variant tag
// (empty for the baseline variant).
func ComputeKey(srcDir, commitHash, variant string) Key {
	h := blake3.New(32, nil)
	for _, field := range []string{srcDir, commitHash, variant} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return Key(hex.EncodeToString(h.Sum(nil)[:16]))
}

// Dir is a per-variant sysroot directory for one target triple.
type Dir struct {
	// Root is the variant's sysroot root directory.
	Root string
	// Target is the target triple the sysroot is built for.
	Target string
}

// Path returns the directory to pass to rustc as --sysroot.
func (d Dir) Path() string {
	return d.Root
}

// TargetDir returns the per-target subtree, lib/rustlib/<target>.
func (d Dir) TargetDir() string {
	return filepath.Join(d.Root, "lib", "rustlib", d.Target)
}

// LibDir returns the artifact directory, lib/rustlib/<target>/lib.
func (d Dir) LibDir() string {
	return filepath.Join(d.TargetDir(), "lib")
}

func (d Dir) markerPath() string {
	return filepath.Join(d.TargetDir(), markerName)
}

// Fresh reports whether the artifacts in the directory were produced
// by the configuration identified by key.
// A missing or unreadable marker means not fresh: a cold cache is
// routine, never an error.
func (d Dir) Fresh(key Key) bool {
	data, err := os.ReadFile(d.markerPath())
	if err != nil {
		return false
	}
	return Key(strings.TrimSpace(string(data))) == key
}

// Record persists key as the marker for the current artifacts.
// Failure is a hard error: artifacts must never be presented as fresh
// unless the marker was written successfully.
func (d Dir) Record(key Key) error {
	return osutil.WriteFilePerm(d.markerPath(), []byte(key), 0o644)
}

// NoStdTarget reports whether the target has no standard library and
// gets a core/alloc-only sysroot.
// The substring checks follow the upstream bootstrap classification.
func NoStdTarget(target string) bool {
	return strings.Contains(target, "-none") ||
		strings.Contains(target, "nvptx") ||
		strings.Contains(target, "switch") ||
		strings.Contains(target, "-uefi")
}
