package am

import (
	"net/url"
	"strings"

	"github.com/teranos/storytest/errors"
)

// Service names a remote collaborator whose credentials a command needs
type Service string

const (
	ServiceJira      Service = "jira"
	ServiceXray      Service = "xray"
	ServiceAnthropic Service = "anthropic"
)

// Validate checks that the configuration is structurally valid.
// Credentials are checked separately by Require, since not every command needs them.
func (c *Config) Validate() error {
	if c.Xray.PollMaxAttempts <= 0 {
		return errors.Newf("xray.poll_max_attempts must be > 0, got %d", c.Xray.PollMaxAttempts)
	}
	if c.Xray.PollIntervalSeconds < 0 {
		return errors.Newf("xray.poll_interval_seconds must be >= 0, got %d", c.Xray.PollIntervalSeconds)
	}
	if c.Xray.TimeoutSeconds <= 0 {
		return errors.Newf("xray.timeout_seconds must be > 0, got %d", c.Xray.TimeoutSeconds)
	}
	if c.Jira.TimeoutSeconds <= 0 {
		return errors.Newf("jira.timeout_seconds must be > 0, got %d", c.Jira.TimeoutSeconds)
	}
	// 0 = unpaced, negative = invalid
	if c.Jira.RequestsPerSecond < 0 {
		return errors.Newf("jira.requests_per_second must be >= 0, got %f", c.Jira.RequestsPerSecond)
	}
	if strings.TrimSpace(c.Jira.LinkType) == "" {
		return errors.New("jira.link_type cannot be empty")
	}

	if c.Anthropic.MaxTokens <= 0 {
		return errors.Newf("anthropic.max_tokens must be > 0, got %d", c.Anthropic.MaxTokens)
	}
	if c.Anthropic.Temperature < 0 || c.Anthropic.Temperature > 1 {
		return errors.Newf("anthropic.temperature must be within [0, 1], got %f", c.Anthropic.Temperature)
	}
	if c.Anthropic.TimeoutSeconds <= 0 {
		return errors.Newf("anthropic.timeout_seconds must be > 0, got %d", c.Anthropic.TimeoutSeconds)
	}
	if c.Anthropic.MaxRetries < 0 {
		return errors.Newf("anthropic.max_retries must be >= 0, got %d", c.Anthropic.MaxRetries)
	}

	if c.KnowledgeBase.SimilarityThreshold < 0 || c.KnowledgeBase.SimilarityThreshold > 1 {
		return errors.Newf("knowledge_base.similarity_threshold must be within [0, 1], got %f", c.KnowledgeBase.SimilarityThreshold)
	}
	if c.KnowledgeBase.MaxDocuments < 0 {
		return errors.Newf("knowledge_base.max_documents must be >= 0, got %d", c.KnowledgeBase.MaxDocuments)
	}

	if strings.TrimSpace(c.Generator.OutputDir) == "" {
		return errors.New("generator.output_dir cannot be empty")
	}

	for key, raw := range map[string]string{
		"xray.base_url":      c.Xray.BaseURL,
		"anthropic.base_url": c.Anthropic.BaseURL,
	} {
		if err := checkAbsoluteURL(key, raw); err != nil {
			return err
		}
	}

	return nil
}

// Require checks that credentials and endpoints for each service are present
func (c *Config) Require(services ...Service) error {
	for _, service := range services {
		var missing []string
		switch service {
		case ServiceJira:
			if c.Jira.BaseURL == "" {
				missing = append(missing, "jira.base_url")
			}
			if c.Jira.AuthToken == "" {
				missing = append(missing, "jira.auth_token")
			}
		case ServiceXray:
			if c.Xray.ClientID == "" {
				missing = append(missing, "xray.client_id")
			}
			if c.Xray.ClientSecret == "" {
				missing = append(missing, "xray.client_secret")
			}
			if c.TestProjectKey() == "" {
				missing = append(missing, "jira.test_project_key")
			}
		case ServiceAnthropic:
			if c.Anthropic.APIKey == "" {
				missing = append(missing, "anthropic.api_key")
			}
		default:
			return errors.Newf("unknown service %q", service)
		}

		if len(missing) > 0 {
			err := errors.NewNotConfiguredError(missing[0])
			if len(missing) > 1 {
				err = errors.WithDetailf(err, "also missing: %s", strings.Join(missing[1:], ", "))
			}
			return errors.Wrapf(err, "%s is not configured", service)
		}
	}
	return nil
}

func checkAbsoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "%s is not a valid URL", key)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return errors.Newf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}
