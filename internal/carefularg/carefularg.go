// Copyright 2026 The cargo-careful Authors
// SPDX-License-Identifier: MIT

// Package carefularg splits a raw cargo-careful argument stream into
// the pieces meant for cargo-careful itself, the pieces forwarded to
// cargo, and the pieces passed through verbatim to the invoked binary.
//
// Everything operates on plain token slices:
// callers read os.Args once at the process boundary
// and components stay testable without touching global state.
package carefularg

import (
	"fmt"
	"strings"
)

// careful flags use the -Z<tool>-<key>[=<value>] convention
// so cargo never mistakes them for its own.
const carefulPrefix = "-Zcareful-"

// DefaultSanitizer is the sanitizer selected by a bare -Zcareful-sanitizer flag.
const DefaultSanitizer = "address"

// Options is the result of parsing the tokens before the "--" separator.
type Options struct {
	// Sanitizer is the requested sanitizer name, or "" for the baseline build.
	Sanitizer string
	// Verbose counts the -v occurrences before "--".
	Verbose int
	// CargoArgs holds every pre-"--" token not consumed by cargo-careful,
	// in their original order, for forwarding to cargo.
	// -v is counted but still forwarded: cargo has its own use for it.
	CargoArgs []string
}

// Split divides args at the first literal "--" separator.
// The separator itself is part of neither half.
// Everything after it belongs to the invoked binary or test runner
// and must never be interpreted.
func Split(args []string) (before, after []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// Parse interprets the tokens before the "--" separator.
// A recognized -Zcareful- flag supplied multiple times keeps its last value.
func Parse(before []string) (*Options, error) {
	opts := new(Options)
	for _, arg := range before {
		if arg == "-v" {
			opts.Verbose++
			opts.CargoArgs = append(opts.CargoArgs, arg)
			continue
		}
		rest, ok := strings.CutPrefix(arg, carefulPrefix)
		if !ok {
			opts.CargoArgs = append(opts.CargoArgs, arg)
			continue
		}
		key, value, hasValue := strings.Cut(rest, "=")
		switch {
		case key == "sanitizer" && hasValue:
			opts.Sanitizer = value
		case key == "sanitizer":
			opts.Sanitizer = DefaultSanitizer
		default:
			return nil, fmt.Errorf("unsupported careful flag %q", arg)
		}
	}
	return opts, nil
}

// FlagValues returns every value of a --name flag among args,
// in both the "--name value" and "--name=value" spellings,
// stopping at the "--" separator.
func FlagValues(args []string, name string) []string {
	var values []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		suffix, ok := strings.CutPrefix(arg, name)
		if !ok {
			continue
		}
		switch {
		case suffix == "":
			// This argument is exactly name; the next one is the value.
			if i+1 < len(args) {
				values = append(values, args[i+1])
				i++
			}
		case strings.HasPrefix(suffix, "="):
			values = append(values, suffix[1:])
		default:
			// Some other flag that happens to share the prefix.
		}
	}
	return values
}

// FlagValue returns the first value of a --name flag among args,
// reporting whether one was found.
func FlagValue(args []string, name string) (string, bool) {
	values := FlagValues(args, name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}
