package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/service"
)

var runJSON bool

// runCmd runs one campaign
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one review campaign over all eligible customers",
	Long: `Sends review requests to pending customers, waits for their replies,
classifies them and sends the follow-up. Customers left half-way by an
earlier run are resumed where they stopped.

Ctrl-C stops the run at the next safe point; progress is kept.`,
	RunE: runCampaign,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := service.NewCampaignService(a.uc.Runner, logger)
	summary, err := svc.Run(ctx)
	if summary != nil {
		if runJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				return encErr
			}
		} else {
			printSummary(cmd.OutOrStdout(), summary)
		}
	}
	if err != nil {
		return fmt.Errorf("campaign run failed: %w", err)
	}
	if summary != nil && summary.Aborted {
		return fmt.Errorf("campaign aborted: %s", summary.AbortReason)
	}
	return nil
}

func printSummary(w io.Writer, s *domain.RunSummary) {
	fmt.Fprintln(w, "Campaign run", s.RunID)
	fmt.Fprintln(w, strings.Repeat("─", 60))
	for _, a := range s.Attempts {
		line := fmt.Sprintf("  #%-5d %-20s %-15s → %-13s %s", a.CustomerID, truncate(a.Name, 20), a.StartStatus, a.FinalStatus, a.Outcome)
		if a.Sentiment != domain.SentimentNone {
			line += " (" + string(a.Sentiment) + ")"
		}
		if a.Error != "" {
			line += ": " + a.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, strings.Repeat("─", 60))
	fmt.Fprintln(w, s.String())
	if s.Aborted {
		fmt.Fprintf(w, "Run aborted: %s\n", s.AbortReason)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
