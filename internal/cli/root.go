package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/groupforge/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   ____                       _____                    \n" +
		"  / ___|_ __ ___  _   _ _ __ |  ___|__  _ __ __ _  ___ \n" +
		" | |  _| '__/ _ \\| | | | '_ \\| |_ / _ \\| '__/ _` |/ _ \\\n" +
		" | |_| | | | (_) | |_| | |_) |  _| (_) | | | (_| |  __/\n" +
		"  \\____|_|  \\___/ \\__,_| .__/|_|  \\___/|_|  \\__, |\\___|\n" +
		"                       |_|                  |___/      \n"

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "groupforge",
	Short: "GroupForge - batch WhatsApp group creation",
	Long:  color.CyanString(logo) + "\nCreates WhatsApp groups in bulk from CSV uploads, one owner session at a time.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func okMark(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}
