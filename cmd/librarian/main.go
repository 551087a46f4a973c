// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for the Librarian
// library database using the Cobra library. It defines the root command,
// subcommands (migrate, keys, backup, restore, maintenance), flags, and
// the main entry point for execution.

package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toeirei/librarian/internal/config"
	"github.com/toeirei/librarian/internal/crypto"
	"github.com/toeirei/librarian/internal/db"
	"github.com/toeirei/librarian/internal/logging"
	"github.com/toeirei/librarian/internal/model"
)

var version = "dev" // this will be set by the linker
var cfgFile string

// cfg is resolved once in PersistentPreRunE and read by all subcommands.
var cfg config.Config

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

// newRootCmd creates and configures a new root cobra command. This function
// is used to create the main application command as well as fresh instances
// for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "librarian",
		Short: "Librarian manages the local library database of your file manager.",
		Long: `Librarian bootstraps the library database, keeps its schema up to
date and stores the encryption key records your libraries depend on.
The database is the source of truth; everything else is derived from it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cmd, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logging.SetDebug(cfg.Debug)
			db.SetDebug(cfg.Debug)
			return nil
		},
	}

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newMaintenanceCmd())

	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is librarian.yaml in the usual locations)")
	cmd.PersistentFlags().String("database.type", "sqlite", "database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./librarian.db", "database connection string (DSN)")
	cmd.PersistentFlags().String("migration.mode", "deploy", `migration mode ("push" for development, "deploy" for production)`)
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	return cmd
}

// migrationStrategy selects the strategy once, from configuration and the
// environment overrides. The choice is fixed for the process lifetime.
func migrationStrategy() (db.MigrationStrategy, error) {
	switch cfg.Migration.Mode {
	case "push":
		return db.NewPushStrategy(db.OverridesFromEnv()), nil
	case "deploy":
		return db.NewDeployStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown migration mode %q (want \"push\" or \"deploy\")", cfg.Migration.Mode)
	}
}

// openDatabase runs the full startup sequence: open, migrate, hand back a
// ready connection.
func openDatabase(cmd *cobra.Command) (*db.DB, error) {
	strategy, err := migrationStrategy()
	if err != nil {
		return nil, err
	}
	return db.LoadAndMigrate(cmd.Context(), cfg.Database.Type, cfg.Database.DSN, strategy)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Open the library database and bring its schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()
			logging.Infof("database %s is up to date (%s mode)", cfg.Database.DSN, cfg.Migration.Mode)
			return nil
		},
	}
}

func newKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and create stored key records",
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the key records in the library database",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			keys, err := d.ListStoredKeys(cmd.Context())
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				cmd.Println("No keys stored.")
				return nil
			}
			for _, k := range keys {
				cmd.Printf("%s  %s  %s  %s/%s\n", k.UUID, k.KeyType, k.Version, k.Algorithm, k.HashingAlgorithm)
			}
			return nil
		},
	})

	var keyTypeName string
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key record from a passphrase and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyType, err := model.ParseKeyType(keyTypeName)
			if err != nil {
				return err
			}

			passphrase, err := readPassphrase(cmd)
			if err != nil {
				return err
			}

			sk, err := crypto.NewStoredKey(passphrase, keyType, model.AlgorithmXChaCha20Poly1305, model.HashingArgon2idStandard)
			if err != nil {
				return err
			}

			d, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if err := d.WriteStoredKey(cmd.Context(), sk); err != nil {
				return err
			}
			cmd.Printf("Stored key %s\n", sk.UUID)
			return nil
		},
	}
	generateCmd.Flags().StringVar(&keyTypeName, "type", "User", `key type ("User" or "Root")`)
	keysCmd.AddCommand(generateCmd)

	return keysCmd
}

// readPassphrase reads a passphrase without echo when attached to a
// terminal, falling back to a plain line read otherwise (tests, pipes).
func readPassphrase(cmd *cobra.Command) ([]byte, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		cmd.Print("Passphrase: ")
		pw, err := term.ReadPassword(fd)
		cmd.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return pw, nil
	}
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return []byte(line), nil
}

func newBackupCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a compressed (zstd) JSON backup of the key records",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("could not create backup file: %w", err)
			}
			defer func() { _ = f.Close() }()

			if err := d.ExportBackup(cmd.Context(), f); err != nil {
				return err
			}
			logging.Infof("backup written to %s", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "librarian-backup.json.zst", "backup file path")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore key records from a backup file",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("could not open backup file: %w", err)
			}
			defer func() { _ = f.Close() }()

			n, err := d.ImportBackup(cmd.Context(), f)
			if err != nil {
				return err
			}
			logging.Infof("restored %d key record(s) from %s", n, in)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "input", "i", "librarian-backup.json.zst", "backup file path")
	return cmd
}

func newMaintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run engine-specific database maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if err := d.RunMaintenance(cmd.Context()); err != nil {
				return err
			}
			logging.Infof("maintenance completed for %s", cfg.Database.DSN)
			return nil
		},
	}
}
