// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/drydock/cmd/drydock/config"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
	"github.com/jinterlante1206/drydock/pkg/ux"
)

// runInit writes the default configuration to --config. An existing file is
// never overwritten.
func runInit(cmd *cobra.Command, args []string) error {
	p := ux.NewPrinter(machineOutput, false)
	p.Out = cmd.OutOrStdout()

	if err := config.WriteDefault(configPath); err != nil {
		return util.NewOpError(util.KindPrecondition, "init", err)
	}
	p.Success("wrote %s", configPath)
	p.Info("Next: set datastore.dsn (or %s), review services and backup.dir, then run 'drydock health-check'.",
		config.EnvDatastoreDSN)
	return nil
}
