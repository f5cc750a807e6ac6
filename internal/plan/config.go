// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

package plan

import (
	"context"
	"os"
	"strings"

	"careful.build/cargo-careful/internal/carefularg"
	"careful.build/cargo-careful/internal/rustc"
)

// Config is the ambient environment, captured exactly once at the
// process boundary and threaded explicitly from there on.
// No component below the boundary reads environment variables itself.
type Config struct {
	// Cargo and Rustc are the toolchain executables
	// (CARGO and RUSTC overrides, or the bare names).
	Cargo string
	Rustc string
	// SourceOverride is an explicit library source tree (RUST_LIB_SRC).
	SourceOverride string
	// EncodedRustflags is CARGO_ENCODED_RUSTFLAGS;
	// HasEncodedRustflags distinguishes empty from unset.
	EncodedRustflags    string
	HasEncodedRustflags bool
	// Rustflags is the legacy space-separated RUSTFLAGS variable.
	Rustflags    string
	HasRustflags bool
	// ASANOptionsSet records whether the caller configured ASAN_OPTIONS,
	// in which case the leak-detection default is left alone.
	ASANOptionsSet bool
	// CI suppresses interactive prompts
	// (the CI variable, or TF_BUILD on Azure).
	CI bool
}

// FromEnvironment captures the ambient environment.
// This is the only place in the module that reads it.
func FromEnvironment() Config {
	c := Config{
		Cargo:          os.Getenv("CARGO"),
		Rustc:          os.Getenv("RUSTC"),
		SourceOverride: os.Getenv("RUST_LIB_SRC"),
	}
	if c.Cargo == "" {
		c.Cargo = "cargo"
	}
	if c.Rustc == "" {
		c.Rustc = "rustc"
	}
	c.EncodedRustflags, c.HasEncodedRustflags = os.LookupEnv("CARGO_ENCODED_RUSTFLAGS")
	c.Rustflags, c.HasRustflags = os.LookupEnv("RUSTFLAGS")
	_, c.ASANOptionsSet = os.LookupEnv("ASAN_OPTIONS")
	_, ci := os.LookupEnv("CI")
	_, tfBuild := os.LookupEnv("TF_BUILD")
	c.CI = ci || tfBuild
	return c
}

// Toolchain returns the toolchain described by the configuration.
func (c Config) Toolchain() rustc.Toolchain {
	return rustc.Toolchain{Rustc: c.Rustc, Cargo: c.Cargo}
}

// ResolveRustflags determines the flags the ambient environment already
// specifies for the build. Precedence: the encoded variable (an empty
// value means an empty list), then the legacy space-separated variable,
// then the build tool's own configuration.
// cargoArgs supply the user's --config/--manifest-path context for the
// configuration query.
func (c Config) ResolveRustflags(ctx context.Context, cargoArgs []string) ([]string, error) {
	if c.HasEncodedRustflags {
		if c.EncodedRustflags == "" {
			return nil, nil
		}
		return strings.Split(c.EncodedRustflags, encodedSeparator), nil
	}
	if c.HasRustflags {
		// Split on spaces and drop empty entries,
		// matching how cargo itself reads the legacy variable.
		return strings.Fields(c.Rustflags), nil
	}
	return c.Toolchain().ConfigRustflags(ctx, CargoExtraFlags(cargoArgs))
}

// CargoExtraFlags returns the flags that make an auxiliary cargo
// invocation behave like the user's: forwarded --config values and
// --manifest-path, plus -Zunstable-options which --config requires.
func CargoExtraFlags(cargoArgs []string) []string {
	flags := []string{"-Zunstable-options"}
	for _, value := range carefularg.FlagValues(cargoArgs, "--config") {
		flags = append(flags, "--config", value)
	}
	if manifest, ok := carefularg.FlagValue(cargoArgs, "--manifest-path"); ok {
		flags = append(flags, "--manifest-path", manifest)
	}
	return flags
}
