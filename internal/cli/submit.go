package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/groupforge/internal/config"
)

var (
	submitToken   string
	submitGateway string
)

var submitCmd = &cobra.Command{
	Use:   "submit <file.csv>",
	Short: "Upload a CSV of groups to a running gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitToken, "token", "", "Gateway bearer token (default $GROUPFORGE_TOKEN)")
	submitCmd.Flags().StringVar(&submitGateway, "gateway", "", "Gateway base URL (default from config)")
	rootCmd.AddCommand(submitCmd)
}

type submitResult struct {
	BatchID  string `json:"batchId"`
	OwnerID  string `json:"ownerId"`
	Rows     int    `json:"rows"`
	Queued   int    `json:"queued"`
	Dropped  int    `json:"droppedNumbers"`
	Rejected []struct {
		Row    int    `json:"row"`
		Reason string `json:"reason"`
	} `json:"rejected"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	base := strings.TrimRight(submitGateway, "/")
	if base == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		base = "http://" + cfg.Gateway.Addr()
	}
	token := submitToken
	if token == "" {
		token = os.Getenv("GROUPFORGE_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("a gateway token is required (--token or GROUPFORGE_TOKEN)")
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, base+"/api/v1/batches", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "text/csv")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var res submitResult
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch %s accepted for %s: %d of %d rows queued\n", res.BatchID, res.OwnerID, res.Queued, res.Rows)
	if res.Dropped > 0 {
		fmt.Fprintf(out, "  %d numbers could not be resolved and were dropped\n", res.Dropped)
	}
	for _, r := range res.Rejected {
		fmt.Fprintf(out, "  row %d rejected: %s\n", r.Row, r.Reason)
	}
	return nil
}
