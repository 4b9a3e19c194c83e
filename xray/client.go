// Package xray imports generated test cases into Xray Cloud, tracks bulk
// import jobs to completion and links the created tests to their story.
package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/internal/httpclient"
	"github.com/teranos/storytest/logger"
)

// DefaultBaseURL is the Xray Cloud API v2 root
const DefaultBaseURL = "https://xray.cloud.getxray.app/api/v2"

// Opener yields an authenticated session
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// StatusReader reads bulk job status
type StatusReader interface {
	JobStatus(ctx context.Context, jobID string) (*ImportJob, error)
}

// Session is a set of calls sharing one bearer token
type Session interface {
	StatusReader
	ImportTest(ctx context.Context, record TestRecord) (*ImportResponse, error)
	ImportBulk(ctx context.Context, records []TestRecord) (*ImportResponse, error)
}

// ImportResponse is the immediate answer to an import request.
// Bulk imports carry a JobID; single imports usually carry the keys.
type ImportResponse struct {
	JobID  string
	Keys   []string
	Errors []ElementError
}

// Config holds Xray client configuration
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTP         *httpclient.Client
	Sink         diag.Sink // receives import requests and responses
	Logger       *zap.SugaredLogger
}

// Client authenticates against Xray and opens sessions
type Client struct {
	config Config
	http   *httpclient.Client
	sink   diag.Sink
	logger *zap.SugaredLogger
}

// NewClient creates an Xray client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.HTTP == nil {
		config.HTTP = httpclient.New(httpclient.Options{Timeout: 60 * time.Second})
	}
	sink := config.Sink
	if sink == nil {
		sink = diag.Nop{}
	}
	return &Client{
		config: config,
		http:   config.HTTP,
		sink:   sink,
		logger: logger.OrNop(config.Logger),
	}
}

// IsConfigured reports whether client credentials are set
func (c *Client) IsConfigured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

type authRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Open exchanges the client credentials for a bearer token
func (c *Client) Open(ctx context.Context) (Session, error) {
	if c.config.ClientID == "" {
		return nil, errors.NewNotConfiguredError("xray.client_id")
	}
	if c.config.ClientSecret == "" {
		return nil, errors.NewNotConfiguredError("xray.client_secret")
	}

	// The token comes back as a JSON string literal
	var token string
	err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint("/authenticate"), nil,
		authRequest{ClientID: c.config.ClientID, ClientSecret: c.config.ClientSecret}, &token)
	if err != nil {
		return nil, errors.Wrap(err, "xray authentication failed")
	}
	token = strings.Trim(strings.TrimSpace(token), `"`)
	if token == "" {
		return nil, errors.Wrap(errors.ErrUnauthorized, "xray authentication returned an empty token")
	}

	c.logger.Debugw("Obtained Xray token")
	return &session{client: c, token: token}, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

type session struct {
	client *Client
	token  string
}

func (s *session) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.token)
	return h
}

// ImportTest sends a single record to /import/test
func (s *session) ImportTest(ctx context.Context, record TestRecord) (*ImportResponse, error) {
	return s.importRecords(ctx, "/import/test", record)
}

// ImportBulk sends records to /import/test/bulk; the answer carries a job id
func (s *session) ImportBulk(ctx context.Context, records []TestRecord) (*ImportResponse, error) {
	return s.importRecords(ctx, "/import/test/bulk", records)
}

func (s *session) importRecords(ctx context.Context, path string, payload interface{}) (*ImportResponse, error) {
	c := s.client
	if body, err := json.MarshalIndent(payload, "", "  "); err == nil {
		c.sink.Record(diag.KindImportRequest, body)
	}

	var raw json.RawMessage
	if err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint(path), s.headers(), payload, &raw); err != nil {
		return nil, errors.Wrapf(err, "xray import %s", path)
	}
	c.sink.Record(diag.KindImportResponse, raw)

	resp, err := parseImportResponse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unexpected response from %s: %s", path, httpclient.Preview(raw, 200))
	}
	return resp, nil
}

// JobStatus reads /import/test/bulk/{jobId}/status
func (s *session) JobStatus(ctx context.Context, jobID string) (*ImportJob, error) {
	c := s.client
	var job ImportJob
	endpoint := c.endpoint("/import/test/bulk/" + url.PathEscape(jobID) + "/status")
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, s.headers(), nil, &job); err != nil {
		return nil, errors.Wrapf(err, "job %s status", jobID)
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return &job, nil
}

// parseImportResponse accepts the shapes Xray has used over time:
// {"jobId"}, {"key"}, {"testKeys": [...]}, or a bare list of keys or issues
func parseImportResponse(raw json.RawMessage) (*ImportResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		keys, err := decodeKeys(trimmed)
		if err != nil {
			return nil, err
		}
		return &ImportResponse{Keys: keys}, nil
	}

	var obj struct {
		JobID    string          `json:"jobId"`
		Key      string          `json:"key"`
		TestKeys json.RawMessage `json:"testKeys"`
		Errors   []ElementError  `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}

	resp := &ImportResponse{JobID: obj.JobID, Errors: obj.Errors}
	if obj.Key != "" {
		resp.Keys = append(resp.Keys, obj.Key)
	}
	if len(obj.TestKeys) > 0 {
		keys, err := decodeKeys(obj.TestKeys)
		if err != nil {
			return nil, err
		}
		resp.Keys = append(resp.Keys, keys...)
	}
	return resp, nil
}

// decodeKeys reads a list of key strings or {"key": ...} objects
func decodeKeys(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		var key string
		if err := json.Unmarshal(item, &key); err == nil {
			keys = append(keys, key)
			continue
		}
		var issue Issue
		if err := json.Unmarshal(item, &issue); err != nil {
			return nil, err
		}
		if issue.Key != "" {
			keys = append(keys, issue.Key)
		}
	}
	return keys, nil
}
