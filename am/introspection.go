package am

import (
	"os"
	"sort"

	"github.com/teranos/storytest/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/storytest/config.toml
	SourceUser        ConfigSource = "user"        // ~/.storytest/config.toml
	SourceProject     ConfigSource = "project"     // storytest.toml found walking up
	SourceExplicit    ConfigSource = "explicit"    // --config
	SourceEnvironment ConfigSource = "environment" // STORYTEST_* and credential env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// Introspect lists every effective setting with the source that supplied it.
// Credential values are masked.
func Introspect() ([]SettingInfo, error) {
	v, err := GetViper()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}

	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := ConfigSources[key]; ok {
			info = si
		}
		if env := envOverride(key); env != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: env}
		}

		var value interface{} = v.Get(key)
		if IsSecretKey(key) && v.GetString(key) != "" {
			value = redactedValue
		}

		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return settings, nil
}

// envOverride returns the name of the environment variable overriding key, if any
func envOverride(key string) string {
	if name := EnvVarName(key); os.Getenv(name) != "" {
		return name
	}
	if name, ok := sensitiveEnvVars[key]; ok && os.Getenv(name) != "" {
		return name
	}
	return ""
}
