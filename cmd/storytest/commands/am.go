package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/storytest/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage storytest configuration",
	Long: `am: manage storytest configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (STORYTEST_* prefix, plus JIRA_AUTH_TOKEN,
   XRAY_CLIENT_ID, XRAY_CLIENT_SECRET and ANTHROPIC_API_KEY)
3. --config file
4. Project config (storytest.toml in the working directory or a parent)
5. User config (~/.storytest/config.toml)
6. System config (/etc/storytest/config.toml)
7. Default values

Examples:
  storytest am show                    # Show current configuration
  storytest am show --format json      # Show configuration in JSON format
  storytest am get xray.test_type      # Get specific config value
  storytest am validate                # Validate current configuration
  storytest am init                    # Write a starter storytest.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration with credentials masked",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., xray.poll_max_attempts, anthropic.model)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long: `Validate the configuration, then report which service credentials
are present. Missing credentials are listed but do not fail validation.`,
	RunE: runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked,
followed by the source of every setting that is not a built-in default.`,
	RunE: runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Long:  "Write the built-in defaults to path (default ./storytest.toml)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file (kept as .back1)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	data, err := marshalConfig(cfg.Redacted(), configFormat)
	if err != nil {
		return err
	}
	fmt.Print(data)
	return nil
}

func marshalConfig(cfg am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# storytest configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# storytest configuration\n" + string(data), nil
	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v, err := am.GetViper()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	if am.IsSecretKey(key) {
		fmt.Println("********")
		return nil
	}
	fmt.Println(am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("✓ Configuration is valid")

	for _, service := range []am.Service{am.ServiceJira, am.ServiceXray, am.ServiceAnthropic} {
		if err := cfg.Require(service); err != nil {
			fmt.Printf("  %s %s: %v\n", pterm.Yellow("○"), service, err)
			continue
		}
		fmt.Printf("  %s %s credentials present\n", pterm.Green("✓"), service)
	}
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (lowest precedence first):")
	for _, c := range am.CandidatePaths() {
		mark := pterm.Gray("missing")
		if _, err := os.Stat(c.Path); err == nil {
			mark = pterm.Green("found")
		}
		fmt.Printf("  %-8s %s  %s\n", c.Source, c.Path, mark)
	}

	settings, err := am.Introspect()
	if err != nil {
		return err
	}
	rows := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		if s.Source == am.SourceDefault {
			continue
		}
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	if len(rows) == 1 {
		fmt.Println("\nAll settings use built-in defaults")
		return nil
	}
	fmt.Println()
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.ProjectConfigName
	if len(args) == 1 {
		path = args[0]
	}
	if err := am.WriteStarter(path, initForce); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s\n", path)
	return nil
}
