package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/ai/tracker"
	"github.com/teranos/storytest/history"
)

// HistoryCmd lists past runs
var HistoryCmd = &cobra.Command{
	Use:   "history [story-key]",
	Short: "Show past generation runs",
	Long: `Show past generation and import runs recorded in the database.

Examples:
  storytest history                 # Last 20 runs
  storytest history PROJ-123        # Runs for one story
  storytest history show <run-id>   # One run with its test keys
  storytest history usage --since 168h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with the tests it imported",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show model token usage and cost",
	RunE:  runHistoryUsage,
}

var (
	historyLimit int
	historyJSON  bool
	usageSince   time.Duration
)

func init() {
	HistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	HistoryCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyUsageCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "Window to aggregate")

	HistoryCmd.AddCommand(historyShowCmd)
	HistoryCmd.AddCommand(historyUsageCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	storyKey := ""
	if len(args) == 1 {
		storyKey = args[0]
	}
	runs, err := history.NewStore(conn).Recent(cmd.Context(), storyKey, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded yet")
		return nil
	}

	rows := pterm.TableData{{"Started", "Story", "Source", "Generated", "Imported", "Linked", "Job", "Result"}}
	for _, r := range runs {
		result := pterm.Green("ok")
		if !r.Success {
			result = pterm.Red("failed")
		}
		if r.FinishedAt == nil {
			result = pterm.Yellow("unfinished")
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.StoryKey,
			r.Source,
			fmt.Sprintf("%d", r.GeneratedCount),
			fmt.Sprintf("%d", r.ImportedCount),
			fmt.Sprintf("%d", r.LinkedCount),
			r.JobStatus,
			result,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	run, err := history.NewStore(conn).Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(run)
	}

	pterm.DefaultSection.Printf("%s %s", run.StoryKey, run.StorySummary)
	pterm.Printf("  %s %s\n", pterm.Gray("Run:"), run.ID)
	pterm.Printf("  %s %s\n", pterm.Gray("Started:"), run.StartedAt.Local().Format(time.RFC1123))
	pterm.Printf("  %s %s\n", pterm.Gray("Source:"), run.Source)
	if run.JobID != "" {
		pterm.Printf("  %s %s (%s)\n", pterm.Gray("Job:"), run.JobID, run.JobStatus)
	}
	pterm.Printf("  %s %s\n", pterm.Gray("Message:"), run.Message)
	for _, test := range run.Tests {
		linked := pterm.Gray("unlinked")
		if test.Linked {
			linked = pterm.Green("linked")
		}
		pterm.Printf("  %s %s %s\n", pterm.Gray("→"), pterm.LightCyan(test.Key), linked)
	}
	return nil
}

func runHistoryUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	since := time.Now().UTC().Add(-usageSince)
	usage := tracker.NewUsageTracker(conn)
	stats, err := usage.GetUsageStats(cmd.Context(), since)
	if err != nil {
		return err
	}
	breakdown, err := usage.GetModelBreakdown(cmd.Context(), since)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(map[string]interface{}{"stats": stats, "models": breakdown})
	}

	pterm.DefaultSection.Printf("Model usage, last %s", usageSince)
	pterm.Printf("  Requests:     %d (%.0f%% successful)\n", stats.TotalRequests, stats.SuccessRate*100)
	pterm.Printf("  Input tokens: %d\n", stats.InputTokens)
	pterm.Printf("  Output:       %d\n", stats.OutputTokens)
	pterm.Printf("  Cost:         $%.4f\n", stats.TotalCost)
	if stats.Truncated > 0 {
		pterm.Printf("  %s %d responses hit max_tokens\n", pterm.Yellow("!"), stats.Truncated)
	}
	if len(breakdown) == 0 {
		return nil
	}

	rows := pterm.TableData{{"Model", "Requests", "Input", "Output", "Cost", "Avg ms"}}
	for _, m := range breakdown {
		avg := "-"
		if m.AvgResponseTimeMs != nil {
			avg = fmt.Sprintf("%.0f", *m.AvgResponseTimeMs)
		}
		rows = append(rows, []string{
			m.ModelName,
			fmt.Sprintf("%d", m.RequestCount),
			fmt.Sprintf("%d", m.InputTokens),
			fmt.Sprintf("%d", m.OutputTokens),
			fmt.Sprintf("$%.4f", m.TotalCost),
			avg,
		})
	}
	pterm.Println()
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
