// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package main

import (
	"errors"
	"os"
	"os/exec"

	"careful.build/cargo-careful/internal/plan"
)

// delegate imitates in-place process replacement on platforms without
// it: run the delegated invocation, wait, and exit with its code.
// It returns only if process setup failed.
func delegate(inv plan.Invocation) error {
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Env = inv.Environ(os.Environ())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	os.Exit(0)
	return nil
}
