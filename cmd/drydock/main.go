// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command drydock deploys, verifies, backs up, restores and maintains a
// multi-service container application on a single host.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jinterlante1206/drydock/cmd/drydock/config"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	code := execute(os.Args[1:])
	config.PurgeSecrets()
	os.Exit(code)
}

// execute runs the command tree and maps the outcome to the process exit
// code. Errors already rendered in a summary are not printed twice.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return util.ExitOK
	}

	var rep *reportedError
	if errors.As(err, &rep) {
		return rep.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return util.ExitCode(err)
}
