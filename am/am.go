// Package am loads storytest configuration ("I am") from defaults, TOML files
// and environment variables using Viper.
package am

// Config represents the storytest configuration
type Config struct {
	Jira          JiraConfig          `mapstructure:"jira" toml:"jira" json:"jira" yaml:"jira"`
	Xray          XrayConfig          `mapstructure:"xray" toml:"xray" json:"xray" yaml:"xray"`
	Anthropic     AnthropicConfig     `mapstructure:"anthropic" toml:"anthropic" json:"anthropic" yaml:"anthropic"`
	Generator     GeneratorConfig     `mapstructure:"generator" toml:"generator" json:"generator" yaml:"generator"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base" toml:"knowledge_base" json:"knowledge_base" yaml:"knowledge_base"`
	Database      DatabaseConfig      `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Network       NetworkConfig       `mapstructure:"network" toml:"network" json:"network" yaml:"network"`
}

// JiraConfig configures the issue tracker
type JiraConfig struct {
	BaseURL string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"` // e.g. "acme.atlassian.net" (https:// assumed)
	APIPath string `mapstructure:"api_path" toml:"api_path" json:"api_path" yaml:"api_path"` // default "/rest/api/2"
	// AuthToken is sent verbatim as the Authorization header ("Basic ..." or "Bearer ...")
	AuthToken         string  `mapstructure:"auth_token" toml:"auth_token" json:"auth_token" yaml:"auth_token"`
	ProjectKey        string  `mapstructure:"project_key" toml:"project_key" json:"project_key" yaml:"project_key"`                     // default project for stories
	TestProjectKey    string  `mapstructure:"test_project_key" toml:"test_project_key" json:"test_project_key" yaml:"test_project_key"` // project that receives tests
	LinkType          string  `mapstructure:"link_type" toml:"link_type" json:"link_type" yaml:"link_type"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"` // 0 = unpaced
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// XrayConfig configures the test-management service
type XrayConfig struct {
	BaseURL             string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	ClientID            string `mapstructure:"client_id" toml:"client_id" json:"client_id" yaml:"client_id"`
	ClientSecret        string `mapstructure:"client_secret" toml:"client_secret" json:"client_secret" yaml:"client_secret"`
	TestType            string `mapstructure:"test_type" toml:"test_type" json:"test_type" yaml:"test_type"` // Manual, Generic, Cucumber
	UseBulkImport       bool   `mapstructure:"use_bulk_import" toml:"use_bulk_import" json:"use_bulk_import" yaml:"use_bulk_import"`
	WaitForCompletion   bool   `mapstructure:"wait_for_completion" toml:"wait_for_completion" json:"wait_for_completion" yaml:"wait_for_completion"`
	PollMaxAttempts     int    `mapstructure:"poll_max_attempts" toml:"poll_max_attempts" json:"poll_max_attempts" yaml:"poll_max_attempts"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" toml:"poll_interval_seconds" json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// AnthropicConfig configures the language model
type AnthropicConfig struct {
	APIKey         string  `mapstructure:"api_key" toml:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL        string  `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	Model          string  `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	MaxTokens      int     `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature" toml:"temperature" json:"temperature" yaml:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries" toml:"max_retries" json:"max_retries" yaml:"max_retries"`
}

// GeneratorConfig configures generation runs
type GeneratorConfig struct {
	OutputDir string `mapstructure:"output_dir" toml:"output_dir" json:"output_dir" yaml:"output_dir"`
	// PromptTemplate overrides the built-in prompt. Placeholders:
	// {USER_STORY_SUMMARY}, {USER_STORY_DESCRIPTION}, {USER_STORY_TITLE}
	PromptTemplate  string `mapstructure:"prompt_template" toml:"prompt_template" json:"prompt_template" yaml:"prompt_template"`
	SaveDiagnostics bool   `mapstructure:"save_diagnostics" toml:"save_diagnostics" json:"save_diagnostics" yaml:"save_diagnostics"`
	LogToFile       bool   `mapstructure:"log_to_file" toml:"log_to_file" json:"log_to_file" yaml:"log_to_file"`
}

// KnowledgeBaseConfig configures prompt enrichment from domain documents
type KnowledgeBaseConfig struct {
	Enabled             bool    `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	Path                string  `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" toml:"similarity_threshold" json:"similarity_threshold" yaml:"similarity_threshold"` // 0.0 to 1.0
	MaxDocuments        int     `mapstructure:"max_documents" toml:"max_documents" json:"max_documents" yaml:"max_documents"`
}

// DatabaseConfig configures the SQLite database holding run history and model usage
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// NetworkConfig configures outbound HTTP
type NetworkConfig struct {
	BlockPrivateIPs bool   `mapstructure:"block_private_ips" toml:"block_private_ips" json:"block_private_ips" yaml:"block_private_ips"`
	UserAgent       string `mapstructure:"user_agent" toml:"user_agent" json:"user_agent" yaml:"user_agent"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
	SecretFilePermissions  = 0600 // Config files holding credentials
)

const redactedValue = "********"

// Redacted returns a copy with credentials masked, for display
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redactedValue
	}
	c.Jira.AuthToken = mask(c.Jira.AuthToken)
	c.Xray.ClientID = mask(c.Xray.ClientID)
	c.Xray.ClientSecret = mask(c.Xray.ClientSecret)
	c.Anthropic.APIKey = mask(c.Anthropic.APIKey)
	return c
}

// IsSecretKey reports whether a dotted key holds a credential
func IsSecretKey(key string) bool {
	switch key {
	case "jira.auth_token", "xray.client_id", "xray.client_secret", "anthropic.api_key":
		return true
	}
	return false
}
