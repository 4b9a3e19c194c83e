package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/am"
	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/xray"
)

// JobCmd inspects Xray bulk import jobs
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect Xray bulk import jobs",
	Long: `Inspect Xray bulk import jobs.

Examples:
  storytest job status 5f1c2a...
  storytest job wait 5f1c2a... --attempts 40 --interval 3s`,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobWaitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Poll a job until it finishes or attempts run out",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobWait,
}

var (
	jobAttempts int
	jobInterval time.Duration
	jobJSON     bool
)

func init() {
	jobWaitCmd.Flags().IntVar(&jobAttempts, "attempts", 0, "Maximum status reads (default xray.poll_max_attempts)")
	jobWaitCmd.Flags().DurationVar(&jobInterval, "interval", 0, "Delay between reads (default xray.poll_interval_seconds)")
	JobCmd.PersistentFlags().BoolVar(&jobJSON, "json", false, "Print the job snapshot as JSON")

	JobCmd.AddCommand(jobStatusCmd)
	JobCmd.AddCommand(jobWaitCmd)
}

func newJobTracker() (*xray.Tracker, *am.Config, error) {
	cfg, err := loadConfig(am.ServiceXray)
	if err != nil {
		return nil, nil, err
	}
	client := newXray(cfg, diag.Nop{})
	return xray.NewTracker(client, logger.ComponentLogger("xray.tracker")), cfg, nil
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	tracker, _, err := newJobTracker()
	if err != nil {
		return err
	}
	return printObservation(tracker.Check(cmd.Context(), args[0]))
}

func runJobWait(cmd *cobra.Command, args []string) error {
	tracker, cfg, err := newJobTracker()
	if err != nil {
		return err
	}
	attempts, interval := jobAttempts, jobInterval
	if attempts <= 0 {
		attempts = cfg.Xray.PollMaxAttempts
	}
	if interval <= 0 {
		interval = cfg.PollInterval()
	}

	var spinner *pterm.SpinnerPrinter
	if !jobJSON {
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("Waiting for job %s...", args[0]))
	}
	obs := tracker.Poll(cmd.Context(), args[0], attempts, interval)
	if spinner != nil {
		_ = spinner.Stop()
	}
	return printObservation(obs)
}

func printObservation(obs xray.Observation) error {
	job := obs.Job()
	if jobJSON {
		data, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		fmt.Println(string(data))
	} else {
		pterm.Printf("%s %s\n", pterm.Gray("Job:"), job.JobID)
		pterm.Printf("%s %s (%d%%)\n", pterm.Gray("Status:"), statusColor(job.Status), job.ProgressValue)
		if latest := job.LatestProgress(); latest != "" {
			pterm.Printf("%s %s\n", pterm.Gray("Progress:"), latest)
		}
		for _, key := range job.Keys() {
			pterm.Printf("  %s %s\n", pterm.LightGreen("✓"), key)
		}
		for _, e := range job.ElementErrors() {
			pterm.Printf("  %s %s\n", pterm.Yellow("!"), e.String())
		}
	}

	switch o := obs.(type) {
	case xray.PollingError:
		return fmt.Errorf("status check failed: %w", o.Err)
	case xray.Terminal:
		if !job.Status.Succeeded() {
			return fmt.Errorf("job %s ended with status %s", job.JobID, job.Status)
		}
	}
	return nil
}

func statusColor(status xray.JobStatus) string {
	switch {
	case status.Succeeded():
		return pterm.Green(string(status))
	case status.IsTerminal(), status == xray.StatusError:
		return pterm.Red(string(status))
	default:
		return pterm.Yellow(string(status))
	}
}
