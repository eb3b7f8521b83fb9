package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KafClaw/groupforge/internal/config"
	"github.com/KafClaw/groupforge/internal/doctor"
	"github.com/KafClaw/groupforge/internal/messaging"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check storage, owner sessions and event sink connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		report := doctor.Run(cmd.Context(), doctor.Options{
			Config:   cfg,
			Sessions: messaging.NewSessions(cfg.Paths.SessionDir(), messaging.NewRegistry()),
		})
		if doctorJSON {
			if err := doctor.WriteJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			doctor.PrintPretty(cmd.OutOrStdout(), report)
		}
		if report.HasFailed {
			return fmt.Errorf("one or more checks failed")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}
