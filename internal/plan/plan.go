// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

// Package plan assembles the delegated cargo invocation:
// the resolved instrumentation flag set, its environment-variable
// encoding, and the final command line.
package plan

import (
	"fmt"
	"slices"
	"strings"
)

// CarefulFlags is the fixed baseline instrumentation flag set.
// It applies to both the sysroot build and the delegated invocation.
var CarefulFlags = []string{
	"-Cdebug-assertions=on",
	"-Zextra-const-ub-checks",
	"-Zstrict-init-checks",
	"--cfg", "careful",
}

// encodedSeparator joins flags in cargo's encoded flag variables.
// Unlike a space, it cannot appear inside a flag value.
const encodedSeparator = "\x1f"

// EncodeRustflags renders flags in the encoded form both the compiler
// and its documentation generator read from the environment.
func EncodeRustflags(flags []string) string {
	return strings.Join(flags, encodedSeparator)
}

// SysrootFlags is the flag list for the synthetic sysroot build:
// baseline flags first, then the ambient flags (so user configuration
// can override where later flags win), then the sanitizer flag last.
func SysrootFlags(ambient []string, sanitizer string) []string {
	flags := slices.Clone(CarefulFlags)
	flags = append(flags, ambient...)
	if sanitizer != "" {
		flags = append(flags, "-Zsanitizer="+sanitizer)
	}
	return flags
}

// DelegatedFlags is the flag list for the delegated invocation:
// the sysroot build flags followed by the sysroot path override.
func DelegatedFlags(ambient []string, sanitizer, sysrootPath string) []string {
	return append(SysrootFlags(ambient, sanitizer), "--sysroot", sysrootPath)
}

// A Request carries everything the planner needs to produce the
// delegated invocation for a real subcommand.
type Request struct {
	// Subcommand is the cargo subcommand to delegate to.
	Subcommand string
	// Sanitizer is the active variant, or "".
	Sanitizer string
	// Target is the effective target triple;
	// ExplicitTarget records whether the user chose it.
	Target         string
	ExplicitTarget bool
	// SysrootPath is the ready sysroot directory.
	SysrootPath string
	// Ambient holds the rustflags the environment already specified.
	Ambient []string
	// CargoArgs are the pre-separator tokens forwarded to cargo.
	CargoArgs []string
	// Passthrough are the post-separator tokens for the invoked binary.
	Passthrough []string
}

// An Invocation is a fully assembled delegated command.
// Env holds only the adjustments layered over the ambient environment.
type Invocation struct {
	Path string
	Args []string
	Env  []string
}

// Environ layers the invocation's environment adjustments over base,
// typically os.Environ(). Existing entries for overridden keys are
// dropped first: raw process replacement passes duplicate entries
// through verbatim and libc getenv returns the first occurrence, so an
// appended override would be shadowed by a stale ambient value.
func (inv Invocation) Environ(base []string) []string {
	overridden := make(map[string]bool, len(inv.Env))
	for _, kv := range inv.Env {
		key, _, _ := strings.Cut(kv, "=")
		overridden[key] = true
	}
	env := make([]string, 0, len(base)+len(inv.Env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if !overridden[key] {
			env = append(env, kv)
		}
	}
	return append(env, inv.Env...)
}

// Describe renders the invocation for verbose echo,
// environment adjustments first.
func (inv Invocation) Describe() string {
	out := new(strings.Builder)
	for _, kv := range inv.Env {
		key, value, _ := strings.Cut(kv, "=")
		fmt.Fprintf(out, "%s=%q ", key, value)
	}
	out.WriteString(inv.Path)
	for _, arg := range inv.Args {
		out.WriteString(" ")
		out.WriteString(arg)
	}
	return out.String()
}

// Delegated assembles the final cargo invocation.
//
// When a sanitizer is active and the user gave no explicit --target,
// the host triple is pinned explicitly so host-side helper binaries
// (build scripts, proc macros) are not built against the instrumented
// sysroot. Everything after the separator is appended verbatim.
func (c Config) Delegated(req Request) Invocation {
	args := []string{req.Subcommand}
	if req.Sanitizer != "" && !req.ExplicitTarget {
		args = append(args, "--target", req.Target)
	}
	args = append(args, req.CargoArgs...)
	args = append(args, "--")
	args = append(args, req.Passthrough...)

	encoded := EncodeRustflags(DelegatedFlags(req.Ambient, req.Sanitizer, req.SysrootPath))
	env := []string{
		"CARGO_ENCODED_RUSTFLAGS=" + encoded,
		"CARGO_ENCODED_RUSTDOCFLAGS=" + encoded,
	}
	// Leaks are not a memory safety issue; leave detection off unless
	// the caller configured the sanitizer runtime themselves.
	if req.Sanitizer == "address" && !c.ASANOptionsSet {
		env = append(env, "ASAN_OPTIONS=detect_leaks=0")
	}

	cargo := c.Cargo
	if cargo == "" {
		cargo = "cargo"
	}
	return Invocation{Path: cargo, Args: args, Env: env}
}
