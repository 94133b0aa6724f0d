package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/toolhost"
)

var runDomain string

var runCmd = &cobra.Command{
	Use:   "run <company>",
	Short: "Run the research pipeline for one company and print the report",
	Long: `Run the full pipeline in-process for a single company.

The domain selection is taken from --domain; without it the top-ranked
candidate is selected automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runDomain, "domain", "", "expansion domain to select at the branch")
	rootCmd.AddCommand(runCmd)
}

func runOnce(company string) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	// The citation tool is served in-process for the duration of the run.
	toolServer := toolhost.NewServer(rt.registry)
	go func() {
		addr := fmt.Sprintf(":%d", rt.cfg.ToolHostPort)
		if err := toolServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("WARN: tool server stopped: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = toolServer.Shutdown(shutdownCtx)
	}()

	resp, err := rt.service.StartRun(ctx, domain.StartRunRequest{CompanyName: company})
	if err != nil {
		return err
	}
	log.Printf("run %s started for %q", resp.RunID, company)

	selected := false
	for {
		view, err := rt.service.GetRun(ctx, resp.RunID)
		if err != nil {
			return err
		}

		if view.AwaitingInput && !selected {
			sel, err := rt.service.SubmitSelection(ctx, resp.RunID, runDomain)
			if err != nil {
				return fmt.Errorf("domain selection failed: %w", err)
			}
			selected = true
			log.Printf("run %s continuing with domain %q", resp.RunID, sel.ChosenDomain)
			continue
		}
		if view.Status.IsTerminal() {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	view, err := rt.service.GetRun(ctx, resp.RunID)
	if err != nil {
		return err
	}
	if view.Status != domain.RunStatusSucceeded {
		if view.Failure != nil {
			return fmt.Errorf("run %s failed at %s (%s): %s",
				resp.RunID, view.Failure.Step, view.Failure.ErrorKind, view.Failure.Message)
		}
		return fmt.Errorf("run %s ended %s", resp.RunID, view.Status)
	}

	report, err := rt.service.GetReport(ctx, resp.RunID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
