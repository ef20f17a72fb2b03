package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/ide-memory/internal/backup"
	"github.com/scrypster/ide-memory/internal/config"
)

func newBackupCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite knowledge database",
		Long: `Writes a consistent snapshot of the knowledge database with VACUUM INTO,
checks its integrity and deletes all but the newest --keep snapshots.
Safe to run while a server is using the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Storage.Engine != config.EngineSQLite {
				return fmt.Errorf("backup supports the sqlite engine only, not %s", cfg.Storage.Engine)
			}

			res, err := backup.Run(cmd.Context(), backup.Config{
				DBPath: cfg.Storage.DatabasePath,
				Dir:    cfg.Backup.Dir,
				Keep:   cfg.Backup.Keep,
				Verify: cfg.Backup.Verify,
			})
			if err != nil {
				return err
			}
			logger.Info("backup complete",
				zap.String("path", res.Path),
				zap.Int64("size", res.Size),
				zap.Duration("duration", res.Duration),
				zap.Int("pruned", len(res.Pruned)))

			out := cmd.OutOrStdout()
			status := "unverified"
			if res.Verified {
				status = "verified"
			}
			fmt.Fprintf(out, "%s (%d bytes, %s)\n", res.Path, res.Size, status)
			for _, p := range res.Pruned {
				fmt.Fprintf(out, "pruned %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.backupDir, "dir", "", "snapshot directory (default backups)")
	cmd.Flags().IntVar(&f.backupKeep, "keep", 0, "snapshots to keep (default 10)")
	cmd.Flags().BoolVar(&f.verify, "verify", true, "integrity-check the new snapshot")
	return cmd
}
