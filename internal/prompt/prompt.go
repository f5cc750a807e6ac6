// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

// Package prompt gates potentially slow or surprising commands
// behind a yes/no confirmation.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
	"zombiezen.com/go/log"
)

// ErrAborted is returned when the user declines a confirmation.
var ErrAborted = errors.New("aborting as per your request")

// Interactive reports whether prompting the user makes sense:
// stdin must be a terminal and the process must not run under CI.
// ci comes from the process-boundary configuration
// (continuous-integration environments set CI, or TF_BUILD on Azure).
func Interactive(ci bool) bool {
	return !ci && term.IsTerminal(int(os.Stdin.Fd()))
}

// A Gate asks for confirmation before running commands.
// The zero value never asks and writes announcements to stderr.
type Gate struct {
	// Interactive enables the question.
	// When false, the command is announced and run without asking.
	Interactive bool
	// In is the confirmation input stream. Defaults to stdin.
	In io.Reader
	// Out is where questions and announcements go. Defaults to stderr.
	Out io.Writer
}

func (g *Gate) in() io.Reader {
	if g.In == nil {
		return os.Stdin
	}
	return g.In
}

func (g *Gate) out() io.Writer {
	if g.Out == nil {
		return os.Stderr
	}
	return g.Out
}

// AskToRun runs cmd after confirmation, where reason completes the
// sentence "run <command> to <reason>".
// A declined confirmation returns [ErrAborted];
// a command failure returns an error naming the reason.
func (g *Gate) AskToRun(ctx context.Context, cmd *exec.Cmd, reason string) error {
	command := strings.Join(cmd.Args, " ")
	if g.Interactive {
		fmt.Fprintf(g.out(), "I will run `%s` to %s. Proceed? [Y/n] ", command, reason)
		answer, err := bufio.NewReader(g.in()).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read confirmation: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "", "y", "yes":
		case "n", "no":
			return ErrAborted
		default:
			return fmt.Errorf("invalid answer %q", strings.TrimSpace(answer))
		}
	} else {
		fmt.Fprintf(g.out(), "Running `%s` to %s.\n", command, reason)
	}

	log.Debugf(ctx, "running %s", command)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to %s: %w", reason, err)
	}
	return nil
}
