package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/am"
	"github.com/teranos/storytest/generator"
)

// ImportCmd re-imports saved case files
var ImportCmd = &cobra.Command{
	Use:   "import <story-key> <dir>",
	Short: "Import previously saved test case files",
	Long: `Import test case files written by an earlier generate run.

Every *.json file in <dir> is validated against the test case schema before
anything is sent; one invalid file aborts the import.

Examples:
  storytest import PROJ-123 output/Login_page
  storytest import PROJ-123 output/Login_page --no-wait`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var (
	importNoWait bool
	importJSON   bool
)

func init() {
	ImportCmd.Flags().BoolVar(&importNoWait, "no-wait", false, "Return as soon as the bulk import job is created")
	ImportCmd.Flags().BoolVar(&importJSON, "json", false, "Print the run report as JSON")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(am.ServiceJira, am.ServiceXray)
	if err != nil {
		return err
	}

	p := newPipeline(cfg, cfg.Xray.WaitForCompletion && !importNoWait)
	defer p.Close()

	report, err := p.generator.Import(cmd.Context(), args[0], args[1], generator.Options{})
	if err != nil {
		return err
	}
	return printReport(cfg, report, importJSON)
}
