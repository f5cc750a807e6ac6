// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

//go:build unix

package sysroot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"careful.build/cargo-careful/internal/rustc"
	"careful.build/cargo-careful/internal/testcontext"
)

const testTarget = "x86_64-unknown-linux-gnu"

// makeSourceTree lays out a minimal library source checkout:
// a library directory containing std/src/lib.rs,
// with the dependency lock file in its parent.
func makeSourceTree(t *testing.T) string {
	t.Helper()
	parent := t.TempDir()
	library := filepath.Join(parent, "library")
	if err := os.MkdirAll(filepath.Join(library, "std", "src"), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(library, "std", "src", "lib.rs"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "Cargo.lock"), []byte("# lock\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return library
}

// fakeCargo writes a cargo stand-in that records each invocation and
// populates the deps output directory the way a release build would.
// extra is appended to the script before it exits.
func fakeCargo(t *testing.T, extra string) (cargoPath, runLog, flagsFile string) {
	t.Helper()
	dir := t.TempDir()
	cargoPath = filepath.Join(dir, "cargo")
	runLog = filepath.Join(dir, "runs.log")
	flagsFile = filepath.Join(dir, "flags.txt")
	script := `#!/bin/sh
echo run >> ` + runLog + `
printf '%s' "$CARGO_ENCODED_RUSTFLAGS" > ` + flagsFile + `
deps="$CARGO_TARGET_DIR/` + testTarget + `/release/deps"
mkdir -p "$deps"
echo rlib > "$deps/libstd-0123.rlib"
echo rmeta > "$deps/libstd-0123.rmeta"
` + extra + `
exit 0
`
	if err := os.WriteFile(cargoPath, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return cargoPath, runLog, flagsFile
}

func countRuns(t *testing.T, runLog string) int {
	t.Helper()
	data, err := os.ReadFile(runLog)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestBuilderCopiesArtifacts(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	src := makeSourceTree(t)
	cargo, _, flagsFile := fakeCargo(t, "")
	dir := Dir{Root: t.TempDir(), Target: testTarget}

	b := &Builder{Toolchain: rustc.Toolchain{Cargo: cargo}}
	err := b.Build(ctx, dir, src, BuildOptions{
		EncodedRustflags: "-Cdebug-assertions=on\x1f--cfg\x1fcareful",
	})
	if err != nil {
		t.Fatal("Build:", err)
	}

	for name, want := range map[string]string{
		"libstd-0123.rlib":  "rlib\n",
		"libstd-0123.rmeta": "rmeta\n",
	} {
		got, err := os.ReadFile(filepath.Join(dir.LibDir(), name))
		if err != nil {
			t.Error(err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s content = %q; want %q", name, got, want)
		}
	}

	gotFlags, err := os.ReadFile(flagsFile)
	if err != nil {
		t.Fatal(err)
	}
	if want := "-Cdebug-assertions=on\x1f--cfg\x1fcareful"; string(gotFlags) != want {
		t.Errorf("build saw CARGO_ENCODED_RUSTFLAGS = %q; want %q", gotFlags, want)
	}
}

func TestBuilderCleansTemporaryProject(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	src := makeSourceTree(t)
	cargo, _, _ := fakeCargo(t, "")
	dir := Dir{Root: t.TempDir(), Target: testTarget}

	b := &Builder{Toolchain: rustc.Toolchain{Cargo: cargo}}
	if err := b.Build(ctx, dir, src, BuildOptions{}); err != nil {
		t.Fatal("Build:", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "cargo-careful-sysroot-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) > 0 {
		t.Errorf("temporary build dirs left behind: %q", leftovers)
	}
}

func TestBuilderRemovesStaleArtifacts(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	src := makeSourceTree(t)
	cargo, _, _ := fakeCargo(t, "")
	dir := Dir{Root: t.TempDir(), Target: testTarget}
	stale := filepath.Join(dir.LibDir(), "libstd-stale.rlib")
	if err := os.MkdirAll(dir.LibDir(), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := &Builder{Toolchain: rustc.Toolchain{Cargo: cargo}}
	if err := b.Build(ctx, dir, src, BuildOptions{}); err != nil {
		t.Fatal("Build:", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale artifact survived the rebuild (stat error %v)", err)
	}
}

func TestBuilderRejectsSubdirectoryInDeps(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	src := makeSourceTree(t)
	cargo, _, _ := fakeCargo(t, `mkdir -p "$deps/incremental"`)
	dir := Dir{Root: t.TempDir(), Target: testTarget}

	b := &Builder{Toolchain: rustc.Toolchain{Cargo: cargo}}
	err := b.Build(ctx, dir, src, BuildOptions{})
	if !errors.Is(err, ErrCopyFailed) {
		t.Errorf("Build error = %v; want ErrCopyFailed", err)
	}
}

func TestBuilderBuildFailure(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	src := makeSourceTree(t)
	cargoDir := t.TempDir()
	cargo := filepath.Join(cargoDir, "cargo")
	if err := os.WriteFile(cargo, []byte("#!/bin/sh\nexit 101\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	dir := Dir{Root: t.TempDir(), Target: testTarget}

	b := &Builder{Toolchain: rustc.Toolchain{Cargo: cargo}}
	err := b.Build(ctx, dir, src, BuildOptions{})
	if !errors.Is(err, ErrBuildFailed) {
		t.Errorf("Build error = %v; want ErrBuildFailed", err)
	}
}

func TestBuilderCopiesDarwinSanitizerRuntime(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	const darwinTarget = "aarch64-apple-darwin"
	src := makeSourceTree(t)

	libdir := t.TempDir()
	runtimeName := "librustc-nightly_rt.address.dylib"
	if err := os.WriteFile(filepath.Join(libdir, runtimeName), []byte("runtime"), 0o755); err != nil {
		t.Fatal(err)
	}
	rustcPath := filepath.Join(t.TempDir(), "rustc")
	if err := os.WriteFile(rustcPath, []byte("#!/bin/sh\necho "+libdir+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cargoPath := filepath.Join(t.TempDir(), "cargo")
	cargoScript := `#!/bin/sh
deps="$CARGO_TARGET_DIR/` + darwinTarget + `/release/deps"
mkdir -p "$deps"
echo rlib > "$deps/libstd-0123.rlib"
`
	if err := os.WriteFile(cargoPath, []byte(cargoScript), 0o755); err != nil {
		t.Fatal(err)
	}

	dir := Dir{Root: t.TempDir(), Target: darwinTarget}
	b := &Builder{Toolchain: rustc.Toolchain{Rustc: rustcPath, Cargo: cargoPath}}
	if err := b.Build(ctx, dir, src, BuildOptions{Variant: "address"}); err != nil {
		t.Fatal("Build:", err)
	}

	got, err := os.ReadFile(filepath.Join(dir.LibDir(), runtimeName))
	if err != nil {
		t.Fatal("sanitizer runtime not copied:", err)
	}
	if string(got) != "runtime" {
		t.Errorf("runtime content = %q; want %q", got, "runtime")
	}
}

func TestBuilderMissingDarwinSanitizerRuntime(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	const darwinTarget = "aarch64-apple-darwin"
	src := makeSourceTree(t)

	// Empty libdir: no runtime to copy.
	rustcPath := filepath.Join(t.TempDir(), "rustc")
	if err := os.WriteFile(rustcPath, []byte("#!/bin/sh\necho "+t.TempDir()+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cargoPath := filepath.Join(t.TempDir(), "cargo")
	cargoScript := `#!/bin/sh
deps="$CARGO_TARGET_DIR/` + darwinTarget + `/release/deps"
mkdir -p "$deps"
echo rlib > "$deps/libstd-0123.rlib"
`
	if err := os.WriteFile(cargoPath, []byte(cargoScript), 0o755); err != nil {
		t.Fatal(err)
	}

	dir := Dir{Root: t.TempDir(), Target: darwinTarget}
	b := &Builder{Toolchain: rustc.Toolchain{Rustc: rustcPath, Cargo: cargoPath}}
	err := b.Build(ctx, dir, src, BuildOptions{Variant: "address"})
	if !errors.Is(err, ErrCopyFailed) {
		t.Errorf("Build error = %v; want ErrCopyFailed", err)
	}
}

func TestBuilderMissingLockfile(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	// A source tree whose parent has no Cargo.lock.
	library := filepath.Join(t.TempDir(), "library")
	if err := os.MkdirAll(library, 0o777); err != nil {
		t.Fatal(err)
	}
	cargo, runLog, _ := fakeCargo(t, "")
	dir := Dir{Root: t.TempDir(), Target: testTarget}

	b := &Builder{Toolchain: rustc.Toolchain{Cargo: cargo}}
	err := b.Build(ctx, dir, library, BuildOptions{})
	if !errors.Is(err, ErrLockfileMissing) {
		t.Errorf("Build error = %v; want ErrLockfileMissing", err)
	}
	if n := countRuns(t, runLog); n != 0 {
		t.Errorf("cargo ran %d times; want 0 (build must fail before compiling)", n)
	}
}
