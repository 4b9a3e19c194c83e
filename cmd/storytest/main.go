package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/am"
	"github.com/teranos/storytest/cmd/storytest/commands"
	"github.com/teranos/storytest/logger"
)

var rootCmd = &cobra.Command{
	Use:   "storytest",
	Short: "Generate Xray test cases from Jira user stories",
	Long: `storytest - Generate Xray test cases from Jira user stories.

storytest reads a user story from Jira, asks Claude for test cases, repairs
whatever the model returns into well-formed cases, saves them as JSON files
and imports them into Xray Cloud, linking every created test to the story.

Available commands:
  generate - Generate, save and import test cases for a story
  import   - Import previously saved case files
  job      - Inspect or wait for an Xray bulk import job
  history  - Show past runs and model usage
  kb       - Validate knowledge base documents
  am       - Manage storytest configuration ("I am")

Examples:
  storytest generate PROJ-123           # Full run
  storytest generate PROJ-123 --no-import
  storytest import PROJ-123 output/Login_page
  storytest job wait 5f1c...            # Wait for a bulk import job
  storytest kb validate --watch`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			am.SetConfigFile(path)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor {
			pterm.DisableColor()
		}

		opts := logger.Options{JSON: jsonLogs, Verbosity: verbosity, NoColor: noColor}
		if commands.WritesRunLog(cmd) {
			if cfg, err := am.Load(); err == nil && cfg.Generator.LogToFile {
				opts.File = filepath.Join(cfg.Generator.OutputDir, "logs",
					fmt.Sprintf("app_%s.log", time.Now().Format("20060102_150405")))
			}
		}
		if err := logger.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this file only")

	rootCmd.AddCommand(commands.GenerateCmd)
	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.KbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		commands.PrintError(err)
		os.Exit(1)
	}
}
