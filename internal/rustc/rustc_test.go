// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

//go:build unix

package rustc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"careful.build/cargo-careful/internal/testcontext"
)

// fakeScript writes an executable shell script and returns its path.
func fakeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const fakeVersionOutput = `rustc 1.89.0-nightly (abcdef0123 2026-08-01)
binary: rustc
commit-hash: abcdef0123456789abcdef0123456789abcdef01
commit-date: 2026-08-01
host: x86_64-unknown-linux-gnu
release: 1.89.0-nightly
LLVM version: 20.1.0
`

func TestVersion(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", `cat <<'EOF'
`+fakeVersionOutput+`EOF
`)}
	got, err := tc.Version(ctx)
	if err != nil {
		t.Fatal("Version:", err)
	}
	want := VersionMeta{
		Release:    "1.89.0-nightly",
		Host:       "x86_64-unknown-linux-gnu",
		CommitHash: "abcdef0123456789abcdef0123456789abcdef01",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Version (-want +got):\n%s", diff)
	}
}

func TestVersionNoCommitHash(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", `cat <<'EOF'
rustc 1.89.0
host: x86_64-unknown-linux-gnu
release: 1.89.0
EOF
`)}
	got, err := tc.Version(ctx)
	if err != nil {
		t.Fatal("Version:", err)
	}
	if got.CommitHash != UnknownCommitHash {
		t.Errorf("CommitHash = %q; want %q", got.CommitHash, UnknownCommitHash)
	}
}

func TestVersionQueryFailure(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", "exit 1\n")}
	if _, err := tc.Version(ctx); !errors.Is(err, ErrConfigQuery) {
		t.Errorf("Version error = %v; want ErrConfigQuery", err)
	}
}

func TestVersionQueryFailureSurfacesStderr(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", "echo 'error: no default toolchain configured' >&2\nexit 1\n")}
	_, err := tc.Version(ctx)
	if !errors.Is(err, ErrConfigQuery) {
		t.Fatalf("Version error = %v; want ErrConfigQuery", err)
	}
	if !strings.Contains(err.Error(), "no default toolchain configured") {
		t.Errorf("Version error %q does not carry the toolchain's diagnostic", err)
	}
}

func TestSysrootSrc(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", "echo /opt/rust/sysroot\n")}
	got, err := tc.SysrootSrc(ctx)
	if err != nil {
		t.Fatal("SysrootSrc:", err)
	}
	want := filepath.Join("/opt/rust/sysroot", "lib", "rustlib", "src", "rust", "library")
	if got != want {
		t.Errorf("SysrootSrc = %q; want %q", got, want)
	}
}

func TestSanitizerSupported(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	script := `cat <<'EOF'
{
  "arch": "x86_64",
  "supported-sanitizers": ["address", "leak", "memory", "thread"]
}
EOF
`
	tc := Toolchain{Rustc: fakeScript(t, "rustc", script)}
	for san, want := range map[string]bool{
		"address":   true,
		"thread":    true,
		"hwaddress": false,
	} {
		got, err := tc.SanitizerSupported(ctx, san, "x86_64-unknown-linux-gnu")
		if err != nil {
			t.Fatalf("SanitizerSupported(%q): %v", san, err)
		}
		if got != want {
			t.Errorf("SanitizerSupported(%q) = %t; want %t", san, got, want)
		}
	}
}

func TestSanitizerSupportedNoList(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", "echo '{\"arch\": \"wasm32\"}'\n")}
	got, err := tc.SanitizerSupported(ctx, "address", "wasm32-unknown-unknown")
	if err != nil {
		t.Fatal("SanitizerSupported:", err)
	}
	if got {
		t.Error("SanitizerSupported = true for a spec without a sanitizer list")
	}
}

func TestSanitizerSupportedBadJSON(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Rustc: fakeScript(t, "rustc", "echo 'not json'\n")}
	if _, err := tc.SanitizerSupported(ctx, "address", "x"); !errors.Is(err, ErrConfigQuery) {
		t.Errorf("SanitizerSupported error = %v; want ErrConfigQuery", err)
	}
}

func TestConfigRustflags(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tc := Toolchain{Cargo: fakeScript(t, "cargo", `echo '["-Copt-level=1", "--cfg", "extra"]'`+"\n")}
	got, err := tc.ConfigRustflags(ctx, nil)
	if err != nil {
		t.Fatal("ConfigRustflags:", err)
	}
	want := []string{"-Copt-level=1", "--cfg", "extra"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ConfigRustflags (-want +got):\n%s", diff)
	}
}

func TestConfigRustflagsUnset(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	// cargo config exits non-zero when build.rustflags is not set.
	tc := Toolchain{Cargo: fakeScript(t, "cargo", "exit 101\n")}
	got, err := tc.ConfigRustflags(ctx, nil)
	if err != nil {
		t.Fatal("ConfigRustflags:", err)
	}
	if diff := cmp.Diff([]string(nil), got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ConfigRustflags (-want +got):\n%s", diff)
	}
}
