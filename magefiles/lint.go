//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binLint = "golangci-lint"

var sourceDirs = []string{"cmd", "internal", "pkg", "magefiles"}

// Fmt fails when any source file is not gofmt-clean.
func Fmt() error {
	out, err := sh.Output("gofmt", append([]string{"-l"}, sourceDirs...)...)
	if err != nil {
		return err
	}
	if out = strings.TrimSpace(out); out != "" {
		return fmt.Errorf("files need gofmt:\n%s", out)
	}
	return nil
}

// Lint checks formatting, then runs golangci-lint over the module.
func Lint() error {
	mg.Deps(Fmt)
	return sh.RunV(binLint, "run", "--timeout=5m", "./...")
}
