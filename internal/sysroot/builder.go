// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

package sysroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"zombiezen.com/go/log"

	"careful.build/cargo-careful/internal/osutil"
	"careful.build/cargo-careful/internal/rustc"
)

// BuildOptions configure one synthetic build attempt.
type BuildOptions struct {
	// Variant is the sanitizer name, or "" for the baseline build.
	Variant string
	// EncodedRustflags is the full 0x1F-encoded flag list for the
	// synthetic build (baseline instrumentation flags, ambient flags,
	// then the sanitizer flag).
	EncodedRustflags string
	// NoStd selects a core/alloc-only build for bare-metal targets.
	NoStd bool
	// Verbose streams the build tool's output instead of suppressing it.
	Verbose bool
}

// A Builder compiles the standard library into a sysroot directory.
type Builder struct {
	Toolchain rustc.Toolchain
}

// Build runs one clean build of the library from srcDir into dir.
//
// Any pre-existing artifacts for the target are removed first; there is
// no incremental merge. The synthetic project lives in a temporary
// directory that is deleted on every exit path. Build never writes the
// freshness marker: that is the caller's job, and only on success.
func (b *Builder) Build(ctx context.Context, dir Dir, srcDir string, opts BuildOptions) (err error) {
	targetDir := dir.TargetDir()
	if _, statErr := os.Stat(targetDir); statErr == nil {
		if err := os.RemoveAll(targetDir); err != nil {
			return fmt.Errorf("clean sysroot target dir: %w", err)
		}
	}

	buildDir, err := os.MkdirTemp("", "cargo-careful-sysroot-")
	if err != nil {
		return fmt.Errorf("create sysroot build dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(buildDir); rmErr != nil && err == nil {
			err = fmt.Errorf("clean up sysroot build dir: %w", rmErr)
		}
	}()

	if err := writeSyntheticProject(buildDir, srcDir, opts.NoStd); err != nil {
		return err
	}

	cargoTargetDir := filepath.Join(buildDir, "target")
	cmd := b.Toolchain.CargoCommand(
		ctx,
		"build",
		"--release",
		"--manifest-path", filepath.Join(buildDir, "Cargo.toml"),
		"--target", dir.Target,
	)
	cmd.Env = append(os.Environ(),
		// Keep build output out of the caller's ambient target directory.
		"CARGO_TARGET_DIR="+cargoTargetDir,
		// Disambiguate artifact metadata from an uninstrumented build
		// of the same library, the same way bootstrap does.
		"__CARGO_DEFAULT_LIB_METADATA=careful",
		"CARGO_ENCODED_RUSTFLAGS="+opts.EncodedRustflags,
	)
	if opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	log.Debugf(ctx, "building sysroot for %s in %s", dir.Target, buildDir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v (run `cargo careful setup` to see the full build output)", ErrBuildFailed, err)
	}

	outDir := filepath.Join(cargoTargetDir, dir.Target, "release", "deps")
	if err := osutil.CopyFlatDir(dir.LibDir(), outDir); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}

	if opts.Variant != "" && strings.Contains(dir.Target, "-apple-darwin") {
		if err := b.copySanitizerRuntime(ctx, dir, opts.Variant); err != nil {
			return err
		}
	}

	return nil
}

// copySanitizerRuntime places the platform's sanitizer runtime shared
// library next to the built artifacts. Darwin links the runtime as a
// dylib resolved relative to the sysroot, so its absence makes the
// sysroot unusable.
func (b *Builder) copySanitizerRuntime(ctx context.Context, dir Dir, variant string) error {
	libdir, err := b.Toolchain.TargetLibdir(ctx, dir.Target)
	if err != nil {
		return err
	}
	runtime, err := osutil.FirstPresentFile(slices.Values([]string{
		filepath.Join(libdir, "librustc-nightly_rt."+variant+".dylib"),
		filepath.Join(libdir, "librustc_rt."+variant+".dylib"),
	}))
	if err != nil {
		return fmt.Errorf("%w: no %s sanitizer runtime in %s", ErrCopyFailed, variant, libdir)
	}
	log.Debugf(ctx, "copying sanitizer runtime %s", runtime)
	if err := osutil.CopyFile(filepath.Join(dir.LibDir(), filepath.Base(runtime)), runtime); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	return nil
}

// writeSyntheticProject generates the throwaway build unit that makes
// the standard library buildable as an ordinary dependency:
// a manifest with path dependencies into srcDir, an empty library stub,
// and the source tree's dependency lock file for deterministic resolution.
func writeSyntheticProject(buildDir, srcDir string, noStd bool) error {
	lock, err := os.ReadFile(filepath.Join(filepath.Dir(srcDir), "Cargo.lock"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockfileMissing, err)
	}
	if err := osutil.WriteFilePerm(filepath.Join(buildDir, "Cargo.lock"), lock, 0o644); err != nil {
		return err
	}
	manifest := syntheticManifest(srcDir, noStd)
	if err := osutil.WriteFilePerm(filepath.Join(buildDir, "Cargo.toml"), []byte(manifest), 0o644); err != nil {
		return err
	}
	stub := ""
	if noStd {
		stub = "#![no_std]\n"
	}
	return osutil.WriteFilePerm(filepath.Join(buildDir, "lib.rs"), []byte(stub), 0o644)
}

// syntheticManifest renders the synthetic crate's manifest.
// The patch section redirects the workspace-internal shim crates to the
// same source tree so resolution never pulls their published counterparts.
func syntheticManifest(srcDir string, noStd bool) string {
	quoted := func(elem ...string) string {
		return strconv.Quote(filepath.Join(append([]string{srcDir}, elem...)...))
	}

	buf := new(strings.Builder)
	buf.WriteString(`[package]
authors = ["The Rust Project Developers"]
name = "sysroot"
version = "0.0.0"

[lib]
path = "lib.rs"

`)
	if noStd {
		fmt.Fprintf(buf, "[dependencies.core]\npath = %s\n", quoted("core"))
		fmt.Fprintf(buf, "[dependencies.alloc]\npath = %s\n", quoted("alloc"))
	} else {
		fmt.Fprintf(buf, "[dependencies.std]\nfeatures = [\"panic_unwind\", \"backtrace\"]\npath = %s\n", quoted("std"))
		fmt.Fprintf(buf, "[dependencies.test]\npath = %s\n", quoted("test"))
	}
	buf.WriteString("\n")
	fmt.Fprintf(buf, "[patch.crates-io.rustc-std-workspace-core]\npath = %s\n", quoted("rustc-std-workspace-core"))
	fmt.Fprintf(buf, "[patch.crates-io.rustc-std-workspace-alloc]\npath = %s\n", quoted("rustc-std-workspace-alloc"))
	fmt.Fprintf(buf, "[patch.crates-io.rustc-std-workspace-std]\npath = %s\n", quoted("rustc-std-workspace-std"))
	return buf.String()
}
