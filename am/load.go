package am

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/storytest/errors"
)

// EnvPrefix prefixes every environment override (STORYTEST_XRAY_POLL_MAX_ATTEMPTS)
const EnvPrefix = "STORYTEST"

// ProjectConfigName is searched for from the working directory upward
const ProjectConfigName = "storytest.toml"

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	explicitFile  string

	// ConfigSources records, per dotted key, the highest-precedence file that set it.
	// Filled while loading; keys absent here come from defaults or the environment.
	ConfigSources = map[string]SourceInfo{}
)

// Load reads the storytest configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// SetConfigFile makes Load read only path (plus defaults and environment),
// skipping the system/user/project cascade. Used by the --config flag.
func SetConfigFile(path string) {
	Reset()
	explicitFile = path
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() (*viper.Viper, error) {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path over the defaults,
// without consulting the environment
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if err := mergeFile(v, configPath, SourceExplicit); err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	explicitFile = ""
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults
func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)

	ConfigSources = map[string]SourceInfo{}
	if explicitFile != "" {
		if err := mergeFile(v, explicitFile, SourceExplicit); err != nil {
			return nil, err
		}
	} else if err := mergeConfigFiles(v); err != nil {
		return nil, err
	}

	viperInstance = v
	return v, nil
}

// Candidate is one file in the configuration cascade
type Candidate struct {
	Source ConfigSource
	Path   string
}

// CandidatePaths returns the cascade in precedence order, lowest first.
// The project entry is omitted when no storytest.toml exists above the working directory.
func CandidatePaths() []Candidate {
	candidates := []Candidate{
		{Source: SourceSystem, Path: "/etc/storytest/config.toml"},
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, Candidate{
			Source: SourceUser,
			Path:   filepath.Join(home, ".storytest", "config.toml"),
		})
	}

	if cwd, err := os.Getwd(); err == nil {
		if project := findProjectConfig(cwd); project != "" {
			candidates = append(candidates, Candidate{Source: SourceProject, Path: project})
		}
	}

	return candidates
}

// findProjectConfig walks up from dir looking for storytest.toml
func findProjectConfig(dir string) string {
	for {
		path := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges configuration files in precedence order.
// Precedence (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) error {
	for _, candidate := range CandidatePaths() {
		if _, err := os.Stat(candidate.Path); err != nil {
			continue
		}
		if err := mergeFile(v, candidate.Path, candidate.Source); err != nil {
			return err
		}
	}
	return nil
}

// mergeFile deep-merges one TOML file into v and records the keys it set
func mergeFile(v *viper.Viper, path string, source ConfigSource) error {
	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	fileViper.SetConfigType("toml")

	if err := fileViper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	settings := fileViper.AllSettings()
	if err := v.MergeConfigMap(settings); err != nil {
		return errors.Wrapf(err, "failed to merge config file %s", path)
	}

	for _, key := range flattenKeys(settings, "") {
		ConfigSources[key] = SourceInfo{Source: source, Path: path}
	}
	return nil
}

// flattenKeys returns the dotted leaf keys of a nested settings map, sorted
func flattenKeys(settings map[string]interface{}, prefix string) []string {
	var keys []string
	for key, value := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			keys = append(keys, flattenKeys(nested, full)...)
			continue
		}
		keys = append(keys, full)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	v, err := initViper()
	if err != nil {
		return nil
	}
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v, err := initViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}
