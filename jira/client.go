// Package jira talks to the Jira REST API v2: reading stories, creating Test
// issues and linking tests back to the stories they cover.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/internal/httpclient"
	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/testcase"
)

// DefaultLinkType is the issue link type joining a test to its story
const DefaultLinkType = "Test"

// Config holds Jira client configuration
type Config struct {
	APIBase           string // scheme://host/rest/api/2
	AuthToken         string // sent verbatim as the Authorization header
	TestProjectKey    string
	LinkType          string
	RequestsPerSecond float64 // 0 disables pacing
	HTTP              *httpclient.Client
	Logger            *zap.SugaredLogger
}

// Client is a paced Jira REST client
type Client struct {
	config  Config
	http    *httpclient.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewClient creates a Jira client
func NewClient(config Config) *Client {
	if config.LinkType == "" {
		config.LinkType = DefaultLinkType
	}
	if config.HTTP == nil {
		config.HTTP = httpclient.New(httpclient.Options{Timeout: 30 * time.Second})
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Client{
		config:  config,
		http:    config.HTTP,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.OrNop(config.Logger),
	}
}

// IsConfigured reports whether the endpoint and credential are set
func (c *Client) IsConfigured() bool {
	return c.config.APIBase != "" && c.config.AuthToken != ""
}

// Issue is the subset of a Jira issue storytest reads
type Issue struct {
	ID             string         `json:"id"`
	Key            string         `json:"key"`
	Self           string         `json:"self"`
	Fields         IssueFields    `json:"fields"`
	RenderedFields RenderedFields `json:"renderedFields"`
}

// IssueFields holds raw field values
type IssueFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   *Named `json:"issuetype,omitempty"`
	Status      *Named `json:"status,omitempty"`
	Project     *Keyed `json:"project,omitempty"`
}

// RenderedFields holds HTML renderings requested with expand=renderedFields
type RenderedFields struct {
	Description string `json:"description"`
}

// Named is a {"name": ...} reference
type Named struct {
	Name string `json:"name"`
}

// Keyed is a {"key": ...} reference
type Keyed struct {
	Key string `json:"key"`
}

// CreatedIssue is the response to an issue creation
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

type createIssueRequest struct {
	Fields createFields `json:"fields"`
}

type createFields struct {
	Project     Keyed  `json:"project"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   Named  `json:"issuetype"`
}

type issueLinkRequest struct {
	Type         Named `json:"type"`
	InwardIssue  Keyed `json:"inwardIssue"`
	OutwardIssue Keyed `json:"outwardIssue"`
}

// GetIssue fetches an issue with its rendered fields
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	endpoint := c.endpoint("/issue/"+url.PathEscape(key)) + "?expand=renderedFields"
	var issue Issue
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &issue); err != nil {
		return nil, errors.Wrapf(err, "failed to get issue %s", key)
	}

	c.logger.Infow("Retrieved issue",
		logger.FieldStoryKey, issue.Key,
		"summary", issue.Fields.Summary)
	return &issue, nil
}

// CreateTestIssue creates a Test issue whose description carries the rendered steps
func (c *Client) CreateTestIssue(ctx context.Context, tc testcase.TestCase) (*CreatedIssue, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.config.TestProjectKey == "" {
		return nil, errors.NewNotConfiguredError("jira.test_project_key")
	}

	req := createIssueRequest{Fields: createFields{
		Project:     Keyed{Key: c.config.TestProjectKey},
		Summary:     tc.Summary,
		Description: DescriptionWithSteps(tc),
		IssueType:   Named{Name: "Test"},
	}}

	var created CreatedIssue
	if err := c.do(ctx, http.MethodPost, c.endpoint("/issue"), req, &created); err != nil {
		return nil, errors.Wrapf(err, "failed to create test issue %q", tc.Summary)
	}

	c.logger.Infow("Created test issue", logger.FieldTestKey, created.Key)
	return &created, nil
}

// CreateTestLink links testKey (inward) to storyKey (outward) with the configured link type
func (c *Client) CreateTestLink(ctx context.Context, testKey, storyKey string) error {
	if err := c.ready(); err != nil {
		return err
	}

	req := issueLinkRequest{
		Type:         Named{Name: c.config.LinkType},
		InwardIssue:  Keyed{Key: testKey},
		OutwardIssue: Keyed{Key: storyKey},
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("/issueLink"), req, nil); err != nil {
		return errors.Wrapf(err, "failed to link %s to %s", testKey, storyKey)
	}

	c.logger.Debugw("Linked test to story",
		logger.FieldTestKey, testKey,
		logger.FieldStoryKey, storyKey)
	return nil
}

// DescriptionWithSteps appends a "## Test Steps" section to the case description
func DescriptionWithSteps(tc testcase.TestCase) string {
	steps := make([]string, 0, len(tc.Steps))
	for i, s := range tc.Steps {
		steps = append(steps, fmt.Sprintf(
			"**Step %d:**\n* **Action:** %s\n* **Data:** %s\n* **Expected Result:** %s",
			i+1, s.Action, s.Data, s.Result))
	}
	return tc.Description + "\n\n## Test Steps\n\n" + strings.Join(steps, "\n\n")
}

func (c *Client) ready() error {
	if c.config.APIBase == "" {
		return errors.NewNotConfiguredError("jira.base_url")
	}
	if c.config.AuthToken == "" {
		return errors.NewNotConfiguredError("jira.auth_token")
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.config.APIBase, "/") + path
}

// do waits for the rate limiter then sends one JSON request
func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	headers := http.Header{}
	headers.Set("Authorization", c.config.AuthToken)
	return c.http.DoJSON(ctx, method, endpoint, headers, in, out)
}
