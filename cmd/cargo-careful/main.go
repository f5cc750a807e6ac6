// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

// cargo-careful runs cargo subcommands against a heavily instrumented
// build of the Rust standard library.
//
// It is meant to be invoked through cargo as `cargo careful <subcommand>`.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"

	"careful.build/cargo-careful/internal/carefularg"
	"careful.build/cargo-careful/internal/plan"
	"careful.build/cargo-careful/internal/prompt"
	"careful.build/cargo-careful/internal/rustc"
	"careful.build/cargo-careful/internal/sysroot"
)

func main() {
	args := os.Args[1:]
	if err := checkInvokedThroughCargo(args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}

	cfg := plan.FromEnvironment()
	rootCommand := newRootCommand(cfg)
	rootCommand.SetArgs(args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// checkInvokedThroughCargo enforces cargo's external-subcommand calling
// convention: the first argument must be the subcommand name itself.
func checkInvokedThroughCargo(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("`cargo-careful` called without first argument; please only invoke this binary through `cargo careful`")
	}
	if args[0] != "careful" {
		return fmt.Errorf("`cargo-careful` called with bad first argument; please only invoke this binary through `cargo careful`")
	}
	return nil
}

func newRootCommand(cfg plan.Config) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "careful",
		Short:         "run cargo with a more careful standard library",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	subcommands := []struct {
		use     string
		aliases []string
		short   string
	}{
		{use: "setup", short: "build the careful sysroot without delegating to cargo"},
		{use: "build", aliases: []string{"b"}, short: "compile the current package carefully"},
		{use: "run", aliases: []string{"r"}, short: "run a binary of the local package carefully"},
		{use: "test", aliases: []string{"t"}, short: "run the package's tests carefully"},
		{use: "nextest", short: "run the package's tests carefully under nextest"},
	}
	for _, sub := range subcommands {
		rootCommand.AddCommand(&cobra.Command{
			Use:                sub.use,
			Aliases:            sub.aliases,
			Short:              sub.short,
			DisableFlagParsing: true,
			SilenceErrors:      true,
			SilenceUsage:       true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), cfg, sub.use, args)
			},
		})
	}
	return rootCommand
}

// run is the whole pipeline for one invocation:
// parse arguments, resolve the toolchain, ensure a fresh sysroot,
// and (except for setup) delegate to cargo.
func run(ctx context.Context, cfg plan.Config, subcommand string, args []string) error {
	before, passthrough := carefularg.Split(args)
	opts, err := carefularg.Parse(before)
	if err != nil {
		return err
	}
	// -v echoes the delegated command; -vv also enables debug logging.
	initLogging(opts.Verbose > 1)

	tc := cfg.Toolchain()
	version, err := tc.Version(ctx)
	if err != nil {
		return err
	}
	target, explicitTarget := carefularg.FlagValue(opts.CargoArgs, "--target")
	if !explicitTarget {
		target = version.Host
	}

	sanitizer := opts.Sanitizer
	if sanitizer != "" {
		supported, err := tc.SanitizerSupported(ctx, sanitizer, target)
		if err != nil {
			return err
		}
		if !supported {
			return fmt.Errorf("%w: `%s` on target `%s`", rustc.ErrVariantUnsupported, sanitizer, target)
		}
		fmt.Fprintf(os.Stderr, "Using sanitizer `%s`.\n", sanitizer)
	}

	ambient, err := cfg.ResolveRustflags(ctx, opts.CargoArgs)
	if err != nil {
		return err
	}

	setup := subcommand == "setup"
	cache := &sysroot.Cache{
		Root:      cacheRoot(),
		Toolchain: tc,
		Locator: &sysroot.Locator{
			Toolchain: tc,
			Override:  cfg.SourceOverride,
			// An explicit setup was already a request to install things;
			// only surprise installs mid-build need confirmation.
			Gate: &prompt.Gate{Interactive: !setup && prompt.Interactive(cfg.CI)},
		},
	}

	if sanitizer != "" {
		fmt.Fprintf(os.Stderr, "Preparing a careful sysroot (target: %s, sanitizer: %s)... ", target, sanitizer)
	} else {
		fmt.Fprintf(os.Stderr, "Preparing a careful sysroot (target: %s)... ", target)
	}
	if setup {
		fmt.Fprintln(os.Stderr)
	}
	sysrootPath, _, err := cache.Ensure(ctx, sysroot.EnsureParams{
		Target:           target,
		Variant:          sanitizer,
		Version:          version,
		EncodedRustflags: plan.EncodeRustflags(plan.SysrootFlags(ambient, sanitizer)),
		Verbose:          setup,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr)
		return err
	}
	if setup {
		fmt.Fprintf(os.Stderr, "A sysroot is now available in `%s`.\n", sysrootPath)
		return nil
	}
	fmt.Fprintln(os.Stderr, "done")

	inv := cfg.Delegated(plan.Request{
		Subcommand:     subcommand,
		Sanitizer:      sanitizer,
		Target:         target,
		ExplicitTarget: explicitTarget,
		SysrootPath:    sysrootPath,
		Ambient:        ambient,
		CargoArgs:      opts.CargoArgs,
		Passthrough:    passthrough,
	})
	if opts.Verbose > 0 {
		fmt.Fprintln(os.Stderr, "[cargo-careful] "+inv.Describe())
	}
	// Only reached if delegation itself could not start:
	// on success the delegated tool's exit code becomes ours.
	if err := delegate(inv); err != nil {
		return fmt.Errorf("run %s: %w", inv.Path, err)
	}
	return nil
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "cargo-careful: ", log.StdFlags, nil),
		})
	})
}
