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
)

// rollbackLatest is the value of a bare --rollback: the anchor of the last
// successful deploy or update in the journal.
const rollbackLatest = "latest"

// --- Global Command Variables ---
var (
	configPath    string
	assumeYes     bool
	logLevel      string
	logJSON       bool
	machineOutput bool

	deployRollback   string
	deployVerify     bool
	deployBackup     bool
	deploySkipBackup bool
	deployForce      bool

	updateStrategy string
	updateRollback string
	updateVerify   bool

	backupScope    string
	backupNoRemote bool

	restoreList   bool
	restoreVerify string

	healthSilent       bool
	healthNotify       bool
	healthCriticalOnly bool
	healthServe        string
	healthExport       bool

	maintenanceDryRun bool

	rootCmd = &cobra.Command{
		Use:   "drydock",
		Short: "Deploy, verify, back up and restore a containerized application",
		Long: `drydock orchestrates the lifecycle of a multi-service application on a
single host: dependency-ordered rollouts gated on readiness, verified
backups, full restores, health evaluation and routine maintenance.

Every mutating command holds an exclusive lock, takes (or reuses) a verified
backup before it changes anything, and rolls back automatically on failure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// --- Rollouts ---
	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Roll out every service tier by tier, rolling back on failure",
		Long: `Deploy creates or reuses a verified pre-flight backup, then rolls the
topology out in ascending tiers. A service that never becomes ready, or a
CRITICAL health evaluation afterwards, rolls the touched services back.

  drydock deploy                  roll out with the configured strategy
  drydock deploy --verify         only evaluate health
  drydock deploy --rollback       return to the last successful deploy's backup
  drydock deploy --rollback ID    return to backup ID`,
		Args: cobra.NoArgs,
		RunE: runDeploy, // Defined in cmd_deploy.go
	}
	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Update services to their configured images",
		Args:  cobra.NoArgs,
		RunE:  runUpdate, // Defined in cmd_deploy.go
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Create and verify a backup",
		Args:  cobra.NoArgs,
		RunE:  runBackup, // Defined in cmd_backup.go
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Restore the whole system from a backup, or list and verify backups",
		Long: `Restore stops every service, restores configuration and assets, replays
the database dump and the cache snapshot, then starts the tiers at the
versions recorded in the backup. The database is dropped first, so the
command asks for confirmation unless --yes is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRestore, // Defined in cmd_backup.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health-check",
		Short: "Evaluate system health (exit 0 OK, 1 WARNING, 2 CRITICAL)",
		Args:  cobra.NoArgs,
		RunE:  runHealthCheck, // Defined in cmd_health.go
	}

	// --- Maintenance ---
	maintenanceCmd = &cobra.Command{
		Use:   "maintenance [all|cleanup|optimize|security|task...]",
		Short: "Run housekeeping tasks",
		Long: `Maintenance runs the named task groups or tasks (default: all).

  cleanup    container-prune, log-rotate, backup-prune
  optimize   datastore-optimize, cache-optimize
  security   permission-repair, package-update

A failing task is reported as a warning and the remaining tasks still run.
--dry-run only reports what would be done.`,
		Args: cobra.ArbitraryArgs,
		RunE: runMaintenance, // Defined in cmd_maintenance.go
	}
	maintenanceScheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Run maintenance on the configured cron schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runMaintenanceSchedule, // Defined in cmd_maintenance.go
	}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a default drydock.yaml",
		Args:  cobra.NoArgs,
		RunE:  runInit, // Defined in cmd_init.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "drydock.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false,
		"Confirm destructive steps without prompting (logged)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs to stderr as JSON")
	rootCmd.PersistentFlags().BoolVar(&machineOutput, "machine", false, "Plain, uncolored output for scripts")

	deployCmd.Flags().StringVar(&deployRollback, "rollback", "",
		"Roll back to a backup id (default: the last successful deploy's backup)")
	deployCmd.Flags().Lookup("rollback").NoOptDefVal = rollbackLatest
	deployCmd.Flags().BoolVar(&deployVerify, "verify", false, "Only run the post-deploy health evaluation")
	deployCmd.Flags().BoolVar(&deployBackup, "backup", false, "Always create a fresh pre-flight backup")
	deployCmd.Flags().BoolVar(&deploySkipBackup, "skip-backup", false,
		"Deploy without a pre-flight backup (a failure can then only discard candidates)")
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "Redeploy services already running their target image")
	deployCmd.MarkFlagsMutuallyExclusive("backup", "skip-backup")
	deployCmd.MarkFlagsMutuallyExclusive("rollback", "verify")

	updateCmd.Flags().StringVar(&updateStrategy, "strategy", "", "Rollout strategy: rolling or full (default from config)")
	updateCmd.Flags().StringVar(&updateRollback, "rollback", "",
		"Roll back to a backup id (default: the last successful update's backup)")
	updateCmd.Flags().Lookup("rollback").NoOptDefVal = rollbackLatest
	updateCmd.Flags().BoolVar(&updateVerify, "verify", false, "Only run the post-update health evaluation")
	updateCmd.MarkFlagsMutuallyExclusive("rollback", "verify")

	backupCmd.Flags().StringVar(&backupScope, "scope", "full", "Backup scope: full or database-only")
	backupCmd.Flags().BoolVar(&backupNoRemote, "no-remote", false, "Skip remote replication")

	restoreCmd.Flags().BoolVar(&restoreList, "list", false, "List backups, newest first")
	restoreCmd.Flags().StringVar(&restoreVerify, "verify", "", "Verify the integrity of a backup id")
	restoreCmd.MarkFlagsMutuallyExclusive("list", "verify")

	healthCmd.Flags().BoolVar(&healthSilent, "silent", false, "Print only the summary")
	healthCmd.Flags().BoolVar(&healthNotify, "notify", false, "Send a notification when the status is not OK")
	healthCmd.Flags().BoolVar(&healthCriticalOnly, "critical-only", false, "Only list CRITICAL checks")
	healthCmd.Flags().StringVar(&healthServe, "serve", "", "Serve /healthz and /metrics on this address until interrupted")
	healthCmd.Flags().BoolVar(&healthExport, "export", false, "Export the report to the metrics textfile and InfluxDB")

	maintenanceCmd.Flags().BoolVar(&maintenanceDryRun, "dry-run", false, "Report what would be done without changing anything")
	maintenanceCmd.AddCommand(maintenanceScheduleCmd)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(initCmd)
}
