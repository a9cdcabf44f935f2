package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/deepwatch/internal/store"
)

func newCleanupCommand(global *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete artifacts of records older than a number of days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			if !cmd.Flags().Changed("days") {
				days = cfg.RetentionDays
			}
			if days < 0 {
				return fmt.Errorf("--days must not be negative, got %d", days)
			}

			st, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := store.NewCleaner(st, log).DeleteFilesFromDisk(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files (%d face records, %d voice records)\n", rep.Files, rep.Faces, rep.Voices)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age in days (default: $RETENTION_DAYS)")
	return cmd
}
