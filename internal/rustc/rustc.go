// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

// Package rustc queries the active Rust toolchain:
// compiler identity, installed library sources,
// target capabilities, and ambient build flags.
//
// Every query shells out to the toolchain executables
// and blocks until the child process exits.
package rustc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	jsonv2 "github.com/go-json-experiment/json"
	"zombiezen.com/go/log"
)

// Sentinel errors for toolchain queries.
var (
	// ErrConfigQuery indicates the toolchain could not be interrogated
	// or returned output in an unexpected shape.
	ErrConfigQuery = errors.New("toolchain configuration query failed")
	// ErrVariantUnsupported indicates the requested sanitizer
	// is not in the target's supported set.
	ErrVariantUnsupported = errors.New("sanitizer not supported by target")
)

// queryError renders a failed toolchain subprocess,
// appending the child's stderr when the exit carried any:
// "exit status 1" alone tells the user nothing about a broken toolchain.
func queryError(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
			return fmt.Sprintf("%v: %s", err, msg)
		}
	}
	return err.Error()
}

// UnknownCommitHash is what rustc reports for locally built compilers
// without commit information. It participates in cache keys as-is.
const UnknownCommitHash = "unknown"

// Toolchain holds the executable paths of the active toolchain.
type Toolchain struct {
	// Rustc is the compiler executable. Defaults to "rustc".
	Rustc string
	// Cargo is the build tool executable. Defaults to "cargo".
	Cargo string
}

func (tc Toolchain) rustc() string {
	if tc.Rustc == "" {
		return "rustc"
	}
	return tc.Rustc
}

func (tc Toolchain) cargo() string {
	if tc.Cargo == "" {
		return "cargo"
	}
	return tc.Cargo
}

// CargoCommand returns a command for the build tool with the given arguments.
func (tc Toolchain) CargoCommand(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, tc.cargo(), args...)
}

// VersionMeta identifies the active compiler.
// It is immutable for the duration of an invocation.
type VersionMeta struct {
	Release    string
	Host       string
	CommitHash string
}

// Version queries `rustc -vV` and parses its key/value output.
func (tc Toolchain) Version(ctx context.Context) (VersionMeta, error) {
	output, err := exec.CommandContext(ctx, tc.rustc(), "-vV").Output()
	if err != nil {
		return VersionMeta{}, fmt.Errorf("%w: rustc -vV: %s", ErrConfigQuery, queryError(err))
	}
	meta := VersionMeta{CommitHash: UnknownCommitHash}
	for line := range strings.Lines(string(output)) {
		key, value, ok := strings.Cut(strings.TrimSuffix(line, "\n"), ": ")
		if !ok {
			continue
		}
		switch key {
		case "release":
			meta.Release = value
		case "host":
			meta.Host = value
		case "commit-hash":
			meta.CommitHash = value
		}
	}
	if meta.Host == "" || meta.Release == "" {
		return VersionMeta{}, fmt.Errorf("%w: rustc -vV output has no host/release", ErrConfigQuery)
	}
	log.Debugf(ctx, "rustc %s (host %s, commit %s)", meta.Release, meta.Host, meta.CommitHash)
	return meta, nil
}

// SysrootSrc returns the directory where the active toolchain's
// rust-src component keeps the standard library sources.
// The directory may not exist if the component is not installed.
func (tc Toolchain) SysrootSrc(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, tc.rustc(), "--print", "sysroot").Output()
	if err != nil {
		return "", fmt.Errorf("%w: rustc --print sysroot: %s", ErrConfigQuery, queryError(err))
	}
	sysroot := strings.TrimSpace(string(output))
	if sysroot == "" {
		return "", fmt.Errorf("%w: rustc --print sysroot returned nothing", ErrConfigQuery)
	}
	return filepath.Join(sysroot, "lib", "rustlib", "src", "rust", "library"), nil
}

// TargetLibdir returns the toolchain's prebuilt library directory for target.
func (tc Toolchain) TargetLibdir(ctx context.Context, target string) (string, error) {
	output, err := exec.CommandContext(ctx, tc.rustc(), "--print", "target-libdir", "--target", target).Output()
	if err != nil {
		return "", fmt.Errorf("%w: rustc --print target-libdir: %s", ErrConfigQuery, queryError(err))
	}
	libdir := strings.TrimSpace(string(output))
	if libdir == "" {
		return "", fmt.Errorf("%w: rustc --print target-libdir returned nothing", ErrConfigQuery)
	}
	return libdir, nil
}

// SanitizerSupported reports whether the target supports the given sanitizer,
// according to the target's specification JSON.
// A target spec without a supported-sanitizers list supports none.
func (tc Toolchain) SanitizerSupported(ctx context.Context, sanitizer, target string) (bool, error) {
	output, err := exec.CommandContext(
		ctx, tc.rustc(),
		"-Z", "unstable-options",
		"--print", "target-spec-json",
		"--target", target,
	).Output()
	if err != nil {
		return false, fmt.Errorf("%w: rustc --print target-spec-json: %s", ErrConfigQuery, queryError(err))
	}
	var spec struct {
		SupportedSanitizers []string `json:"supported-sanitizers"`
	}
	if err := jsonv2.Unmarshal(output, &spec); err != nil {
		return false, fmt.Errorf("%w: parse target spec for %s: %v", ErrConfigQuery, target, err)
	}
	return slices.Contains(spec.SupportedSanitizers, sanitizer), nil
}

// ConfigRustflags asks the build tool's configuration for build.rustflags.
// extraFlags carry the user's --config/--manifest-path context so the
// query sees the same configuration the real build will.
// A failing query means the value is unset, which is not an error.
func (tc Toolchain) ConfigRustflags(ctx context.Context, extraFlags []string) ([]string, error) {
	args := append([]string{"config", "build.rustflags", "--format=json-value"}, extraFlags...)
	output, err := tc.CargoCommand(ctx, args...).Output()
	if err != nil {
		// cargo config exits non-zero when the key is not set.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debugf(ctx, "cargo config build.rustflags: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: cargo config build.rustflags: %s", ErrConfigQuery, queryError(err))
	}
	var flags []string
	if err := jsonv2.Unmarshal(output, &flags); err != nil {
		return nil, fmt.Errorf("%w: parse cargo config output: %v", ErrConfigQuery, err)
	}
	return flags, nil
}
