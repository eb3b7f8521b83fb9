package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/KafClaw/groupforge/internal/config"
	"github.com/KafClaw/groupforge/internal/ledger"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/scheduler"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, data directory and owner sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Version: %s\n", version)

		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Config:  %s Found (%s)\n", okMark(true), configPath)
		} else {
			fmt.Fprintf(out, "Config:  %s Not found (run 'groupforge config init' first)\n", okMark(false))
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		fmt.Fprintf(out, "Data:    %s\n", cfg.Paths.DataDir)

		lock := scheduler.NewFileLock(cfg.Paths.LockPath())
		if pid := lock.HolderPID(); pid > 0 {
			fmt.Fprintf(out, "Gateway: %s Running (pid %d, %s)\n", okMark(true), pid, cfg.Gateway.Addr())
		} else {
			fmt.Fprintf(out, "Gateway: %s Not running\n", okMark(false))
		}

		var led *ledger.Service
		if _, err := os.Stat(cfg.Paths.LedgerPath()); err == nil {
			if led, err = ledger.Open(cfg.Paths.LedgerPath()); err == nil {
				defer led.Close()
			}
		}

		sessions := messaging.NewSessions(cfg.Paths.SessionDir(), messaging.NewRegistry())
		if len(cfg.WhatsApp.Owners) == 0 {
			fmt.Fprintln(out, "Owners:  none configured (whatsapp.owners)")
		}
		for _, owner := range cfg.WhatsApp.Owners {
			paired, err := sessions.Paired(context.Background(), owner)
			line := fmt.Sprintf("Owner %-12s session %s", owner, okMark(paired))
			if err != nil {
				line += fmt.Sprintf(" (error: %v)", err)
			} else if !paired {
				line += fmt.Sprintf(" (run 'groupforge pair --owner %s')", owner)
			}
			if led != nil {
				if n, err := led.CountGroups(owner); err == nil {
					line += fmt.Sprintf("  groups created: %d", n)
				}
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}
