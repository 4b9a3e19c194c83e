package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/am"
	"github.com/teranos/storytest/generator"
)

// GenerateCmd generates and imports test cases for one story
var GenerateCmd = &cobra.Command{
	Use:   "generate <story-key>",
	Short: "Generate, save and import test cases for a user story",
	Long: `Generate test cases for a Jira user story.

The story is fetched from Jira, sent to Claude with the configured prompt
(enriched from the knowledge base when relevant documents exist), and the
answer is repaired into test cases. Cases are saved under
<output_dir>/<story title>/ and imported into Xray, then linked to the story.

When the model call fails, one case per "*Scenario N*" block of the story
description is derived instead.

Examples:
  storytest generate PROJ-123
  storytest generate PROJ-123 --no-import     # Save files only
  storytest generate PROJ-123 --no-wait       # Do not wait for the bulk job
  storytest generate PROJ-123 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

var (
	generateNoImport bool
	generateNoWait   bool
	generateJSON     bool
)

func init() {
	GenerateCmd.Flags().BoolVar(&generateNoImport, "no-import", false, "Save cases without importing them")
	GenerateCmd.Flags().BoolVar(&generateNoWait, "no-wait", false, "Return as soon as the bulk import job is created")
	GenerateCmd.Flags().BoolVar(&generateJSON, "json", false, "Print the run report as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	services := []am.Service{am.ServiceJira, am.ServiceAnthropic}
	if !generateNoImport {
		services = append(services, am.ServiceXray)
	}
	cfg, err := loadConfig(services...)
	if err != nil {
		return err
	}

	p := newPipeline(cfg, cfg.Xray.WaitForCompletion && !generateNoWait)
	defer p.Close()

	var spinner *pterm.SpinnerPrinter
	if !generateJSON {
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("Generating test cases for %s...", args[0]))
	}
	report, err := p.generator.Generate(cmd.Context(), args[0], generator.Options{SkipImport: generateNoImport})
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}
	return printReport(cfg, report, generateJSON)
}

// printReport renders a run report; a failed run yields a non-nil error
func printReport(cfg *am.Config, report *generator.Report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(data))
	} else {
		renderReport(cfg, report)
	}

	if !report.Success() {
		return fmt.Errorf("run for %s did not complete: %s", report.StoryKey, report.Message)
	}
	return nil
}

func renderReport(cfg *am.Config, report *generator.Report) {
	pterm.DefaultSection.Printf("%s %s", report.StoryKey, report.Title)
	pterm.Printf("  %s %s\n", pterm.Gray("Run:"), report.RunID)
	if report.Strategy != "" {
		pterm.Printf("  %s %s (%s)\n", pterm.Gray("Source:"), report.Source, report.Strategy)
	}
	if report.OutputDir != "" {
		pterm.Printf("  %s %s\n", pterm.Gray("Files:"), report.OutputDir)
	}
	pterm.Println()

	if len(report.Cases) > 0 {
		rows := pterm.TableData{{"#", "Test case", "Key", "Result"}}
		for i, c := range report.Cases {
			result := pterm.Green("✓")
			switch {
			case c.Error != "":
				result = pterm.Red(c.Error)
			case !c.Success:
				result = pterm.Gray("pending")
			}
			key := c.Key
			if key != "" {
				key = pterm.LightCyan(key)
			}
			rows = append(rows, []string{fmt.Sprintf("%d", i+1), c.Summary, key, result})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		pterm.Println()
	}

	if imp := report.Import; imp != nil {
		if imp.JobID != "" {
			pterm.Printf("  %s %s  %s %s\n", pterm.Gray("Job:"), imp.JobID, pterm.Gray("Status:"), imp.Status)
		}
		for _, e := range imp.Errors {
			pterm.Printf("  %s %s\n", pterm.Yellow("!"), e.String())
		}
	}
	if links := report.Links; links != nil && links.Attempted > 0 {
		pterm.Printf("  %s %d/%d linked to %s\n", pterm.Gray("Links:"), len(links.Linked), links.Attempted, report.StoryKey)
		for _, key := range links.Failed {
			pterm.Printf("  %s %s %s\n", pterm.Yellow("!"), key, pterm.Gray("not linked"))
		}
	}

	switch {
	case report.Success() && report.Skipped:
		pterm.Info.Println(report.Message)
	case report.Success():
		pterm.Success.Println(report.Message)
		for _, key := range report.ImportedKeys() {
			pterm.Printf("  %s %s\n", pterm.Gray("→"), cfg.JiraBrowseURL(key))
		}
	default:
		pterm.Error.Println(report.Message)
	}
}
