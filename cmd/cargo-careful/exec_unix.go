// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

//go:build unix

package main

import (
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"careful.build/cargo-careful/internal/plan"
)

// delegate replaces the current process with the delegated invocation,
// so its exit code becomes this process's exit code.
// It returns only if process setup failed.
func delegate(inv plan.Invocation) error {
	path, err := exec.LookPath(inv.Path)
	if err != nil {
		return err
	}
	argv := append([]string{inv.Path}, inv.Args...)
	return unix.Exec(path, argv, inv.Environ(os.Environ()))
}
