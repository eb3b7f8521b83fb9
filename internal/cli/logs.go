package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KafClaw/groupforge/internal/config"
	"github.com/KafClaw/groupforge/internal/ledger"
	"github.com/KafClaw/groupforge/internal/task"
)

var (
	logsOwner string
	logsDay   string
	logsOut   string
	logsBatch string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect and export the invite log",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List days with invite log entries for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		led, err := openLedger()
		if err != nil {
			return err
		}
		defer led.Close()

		days, err := led.ListDays(logsOwner)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(days) == 0 {
			fmt.Fprintf(out, "No invite log entries for %s\n", logsOwner)
			return nil
		}
		for _, d := range days {
			fmt.Fprintf(out, "%s  %s\n", d, ledger.ExportFilename(logsOwner, d))
		}
		return nil
	},
}

var logsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print invite log entries for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		if logsDay != "" && !ledger.ValidDay(logsDay) {
			return fmt.Errorf("--day must be YYYY-MM-DD, got %q", logsDay)
		}
		led, err := openLedger()
		if err != nil {
			return err
		}
		defer led.Close()

		entries, err := led.ListInvites(ledger.InviteFilter{OwnerID: logsOwner, Day: logsDay, BatchID: logsBatch})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-32s  %-34s  %s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.GroupName, e.Status, e.InviteLink)
			if e.Detail != "" {
				fmt.Fprintf(out, "  (%s)", e.Detail)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one day of an owner's invite log as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		if !ledger.ValidDay(logsDay) {
			return fmt.Errorf("--day must be YYYY-MM-DD, got %q", logsDay)
		}
		led, err := openLedger()
		if err != nil {
			return err
		}
		defer led.Close()

		var w io.Writer = cmd.OutOrStdout()
		path := ""
		if logsOut != "" {
			path = logsOut
			if info, err := os.Stat(logsOut); err == nil && info.IsDir() {
				path = filepath.Join(logsOut, ledger.ExportFilename(logsOwner, logsDay))
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := led.ExportDay(w, logsOwner, logsDay)
		if err != nil {
			return err
		}
		if path != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, path)
		}
		return nil
	},
}

func init() {
	logsCmd.PersistentFlags().StringVar(&logsOwner, "owner", "", "Owner ID")
	logsShowCmd.Flags().StringVar(&logsDay, "day", "", "Only entries of this day (YYYY-MM-DD)")
	logsShowCmd.Flags().StringVar(&logsBatch, "batch", "", "Only entries of this batch")
	logsExportCmd.Flags().StringVar(&logsDay, "day", "", "Day to export (YYYY-MM-DD)")
	logsExportCmd.Flags().StringVarP(&logsOut, "out", "o", "", "Output file or directory (default stdout)")
	logsCmd.AddCommand(logsListCmd, logsShowCmd, logsExportCmd)
	rootCmd.AddCommand(logsCmd)
}

func requireOwner() error {
	if !task.ValidOwnerID(logsOwner) {
		return fmt.Errorf("--owner is required and must be a valid owner id, got %q", logsOwner)
	}
	return nil
}

func openLedger() (*ledger.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return ledger.Open(cfg.Paths.LedgerPath())
}
