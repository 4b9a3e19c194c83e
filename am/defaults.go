package am

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Built-in endpoint and model defaults
const (
	DefaultJiraAPIPath      = "/rest/api/2"
	DefaultXrayBaseURL      = "https://xray.cloud.getxray.app/api/v2"
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultAnthropicModel   = "claude-sonnet-4-20250514"
	DefaultDatabasePath     = "~/.storytest/storytest.db"
)

// SetDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	// Jira
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.api_path", DefaultJiraAPIPath)
	v.SetDefault("jira.auth_token", "")
	v.SetDefault("jira.project_key", "")
	v.SetDefault("jira.test_project_key", "")
	v.SetDefault("jira.link_type", "Test")
	v.SetDefault("jira.requests_per_second", 5.0)
	v.SetDefault("jira.timeout_seconds", 30)

	// Xray
	v.SetDefault("xray.base_url", DefaultXrayBaseURL)
	v.SetDefault("xray.client_id", "")
	v.SetDefault("xray.client_secret", "")
	v.SetDefault("xray.test_type", "Manual")
	v.SetDefault("xray.use_bulk_import", true)
	v.SetDefault("xray.wait_for_completion", true)
	v.SetDefault("xray.poll_max_attempts", 20)
	v.SetDefault("xray.poll_interval_seconds", 5)
	v.SetDefault("xray.timeout_seconds", 60)

	// Anthropic
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", DefaultAnthropicBaseURL)
	v.SetDefault("anthropic.model", DefaultAnthropicModel)
	v.SetDefault("anthropic.max_tokens", 8000)
	v.SetDefault("anthropic.temperature", 0.2) // Deterministic
	v.SetDefault("anthropic.timeout_seconds", 300)
	v.SetDefault("anthropic.max_retries", 3)

	// Generator
	v.SetDefault("generator.output_dir", "output")
	v.SetDefault("generator.prompt_template", "")
	v.SetDefault("generator.save_diagnostics", true)
	v.SetDefault("generator.log_to_file", true)

	// Knowledge base
	v.SetDefault("knowledge_base.enabled", true)
	v.SetDefault("knowledge_base.path", "knowledge_base")
	v.SetDefault("knowledge_base.similarity_threshold", 0.65)
	v.SetDefault("knowledge_base.max_documents", 3)

	// Database
	v.SetDefault("database.path", DefaultDatabasePath)

	// Network
	v.SetDefault("network.block_private_ips", false)
	v.SetDefault("network.user_agent", "")
}

// BindSensitiveEnvVars binds credentials to their conventional unprefixed names
// in addition to the STORYTEST_ form
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("anthropic.api_key", "STORYTEST_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("xray.client_id", "STORYTEST_XRAY_CLIENT_ID", "XRAY_CLIENT_ID")
	_ = v.BindEnv("xray.client_secret", "STORYTEST_XRAY_CLIENT_SECRET", "XRAY_CLIENT_SECRET")
	_ = v.BindEnv("jira.auth_token", "STORYTEST_JIRA_AUTH_TOKEN", "JIRA_AUTH_TOKEN")
}

// sensitiveEnvVars lists the unprefixed environment names per key, for introspection
var sensitiveEnvVars = map[string]string{
	"anthropic.api_key":  "ANTHROPIC_API_KEY",
	"xray.client_id":     "XRAY_CLIENT_ID",
	"xray.client_secret": "XRAY_CLIENT_SECRET",
	"jira.auth_token":    "JIRA_AUTH_TOKEN",
}

// EnvVarName returns the STORYTEST_ environment variable for a dotted key
func EnvVarName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// JiraAPIBase returns scheme://host/api-path for the configured Jira instance
func (c *Config) JiraAPIBase() string {
	base := strings.TrimRight(c.Jira.BaseURL, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	apiPath := c.Jira.APIPath
	if apiPath == "" {
		apiPath = DefaultJiraAPIPath
	}
	return base + "/" + strings.TrimLeft(apiPath, "/")
}

// JiraBrowseURL returns the web URL for an issue key
func (c *Config) JiraBrowseURL(key string) string {
	u, err := url.Parse(c.JiraAPIBase())
	if err != nil || u.Host == "" {
		return key
	}
	return fmt.Sprintf("%s://%s/browse/%s", u.Scheme, u.Host, key)
}

// TestProjectKey returns the project receiving tests, falling back to the story project
func (c *Config) TestProjectKey() string {
	if c.Jira.TestProjectKey != "" {
		return c.Jira.TestProjectKey
	}
	return c.Jira.ProjectKey
}

// PollInterval returns the job polling interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Xray.PollIntervalSeconds) * time.Second
}

// GetDatabasePath returns the configured database path with ~ expanded
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return ExpandHome(DefaultDatabasePath)
	}
	return ExpandHome(c.Database.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Jira: %s, Xray: %s, Model: %s, Output: %s}",
		c.JiraAPIBase(), c.Xray.BaseURL, c.Anthropic.Model, c.Generator.OutputDir)
}
