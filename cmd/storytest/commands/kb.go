package commands

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/knowledge"
	"github.com/teranos/storytest/logger"
)

// KbCmd groups knowledge base commands
var KbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Work with the knowledge base",
	Long: `Work with the knowledge base used to enrich generation prompts.

Documents are JSON or YAML files with a title, domain, keywords, content
and sample_tests. Only documents that pass validation are used.

Examples:
  storytest kb validate
  storytest kb validate ./kb --watch`,
}

var kbValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate knowledge base documents",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runKbValidate,
}

var kbWatch bool

func init() {
	kbValidateCmd.Flags().BoolVarP(&kbWatch, "watch", "w", false, "Keep running and revalidate files as they change")
	KbCmd.AddCommand(kbValidateCmd)
}

func runKbValidate(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.KnowledgeBase.Path
	}
	if dir == "" {
		return errors.WithHint(errors.New("no knowledge base directory"),
			"pass a directory or set knowledge_base.path")
	}

	report, err := knowledge.ValidateDir(dir)
	if err != nil {
		return err
	}
	for _, f := range report.Files {
		printFileReport(f)
	}
	pterm.Printf("%d of %d documents valid in %s\n", report.ValidCount(), len(report.Files), dir)

	if !kbWatch {
		if report.ValidCount() < len(report.Files) {
			return errors.Newf("%d invalid documents", len(report.Files)-report.ValidCount())
		}
		return nil
	}

	pterm.Info.Println("Watching for changes, Ctrl+C to stop")
	watcher := knowledge.NewWatcher(dir, knowledge.DefaultDebounce, logger.ComponentLogger("knowledge.watch"))
	err = watcher.Run(cmd.Context(), func(paths []string) {
		for _, path := range paths {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				pterm.Printf("%s %s %s\n", pterm.Gray("-"), path, pterm.Gray("removed"))
				continue
			}
			printFileReport(knowledge.ValidateFile(path))
		}
	})
	if err != nil && cmd.Context().Err() == nil {
		return err
	}
	return nil
}

func printFileReport(f knowledge.FileReport) {
	if f.Valid {
		pterm.Printf("%s %s\n", pterm.Green("✓"), f.Path)
		return
	}
	pterm.Printf("%s %s\n", pterm.Red("✗"), f.Path)
	for _, problem := range f.Problems {
		pterm.Printf("    %s\n", problem)
	}
}
