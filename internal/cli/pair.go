package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KafClaw/groupforge/internal/config"
	"github.com/KafClaw/groupforge/internal/messaging"
	"github.com/KafClaw/groupforge/internal/task"
)

var pairOwner string

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Link an owner's WhatsApp account by scanning a QR code",
	RunE:  runPair,
}

func init() {
	pairCmd.Flags().StringVar(&pairOwner, "owner", "", "Owner ID to pair")
	_ = pairCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(pairCmd)
}

func runPair(cmd *cobra.Command, args []string) error {
	printHeader("📲 WhatsApp Pairing")
	if !task.ValidOwnerID(pairOwner) {
		return fmt.Errorf("invalid owner id %q", pairOwner)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	qrPath := cfg.Paths.QRPath(pairOwner)
	if err := os.MkdirAll(filepath.Dir(qrPath), 0o700); err != nil {
		return fmt.Errorf("create qr dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := messaging.NewSessions(cfg.Paths.SessionDir(), messaging.NewRegistry())
	err = sessions.Pair(ctx, pairOwner, qrPath, func(event string) {
		switch event {
		case "code":
			fmt.Printf("Scan the QR code with WhatsApp > Linked devices: %s\n", qrPath)
		case "success":
			fmt.Printf("%s Paired %s\n", okMark(true), pairOwner)
		case "already-paired":
			fmt.Printf("%s %s is already paired\n", okMark(true), pairOwner)
		default:
			fmt.Printf("Pairing event: %s\n", event)
		}
	})
	if err != nil {
		return err
	}
	_ = os.Remove(qrPath)
	return nil
}
