// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

package sysroot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"zombiezen.com/go/log"

	"careful.build/cargo-careful/internal/prompt"
	"careful.build/cargo-careful/internal/rustc"
)

// A Locator finds the standard library source tree to compile against.
type Locator struct {
	Toolchain rustc.Toolchain
	// Override is an explicit source tree path.
	// When set, toolchain discovery is skipped entirely.
	Override string
	// Rustup is the executable used for the remediation step.
	// Defaults to "rustup".
	Rustup string
	// Gate confirms the remediation command before it runs.
	Gate *prompt.Gate
}

// Resolve returns the absolute path of the library source tree.
//
// An explicit override is canonicalized and validated for the standard
// library entrypoint. Otherwise the active toolchain's rust-src
// component is used; if it is absent, Resolve makes a single attempt to
// install it through the gate, re-checks, and fails.
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	if l.Override != "" {
		src := l.Override
		if abs, err := filepath.EvalSymlinks(src); err == nil {
			src = abs
		}
		if abs, err := filepath.Abs(src); err == nil {
			src = abs
		}
		if _, err := os.Stat(filepath.Join(src, "std", "src", "lib.rs")); err != nil {
			return "", fmt.Errorf("%w: %s does not contain the standard library", ErrSourceNotFound, src)
		}
		log.Debugf(ctx, "using overridden library sources at %s", src)
		return src, nil
	}

	src, err := l.Toolchain.SysrootSrc(ctx)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err == nil {
		log.Debugf(ctx, "using rust-src component at %s", src)
		return src, nil
	}

	// One remediation attempt, then fail. Never retry in a loop.
	rustup := l.Rustup
	if rustup == "" {
		rustup = "rustup"
	}
	cmd := exec.CommandContext(ctx, rustup, "component", "add", "rust-src")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	gate := l.Gate
	if gate == nil {
		gate = new(prompt.Gate)
	}
	if err := gate.AskToRun(ctx, cmd, "install the `rust-src` component for the selected toolchain"); err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: %s still absent after installing rust-src", ErrSourceMissing, src)
	}
	return src, nil
}
