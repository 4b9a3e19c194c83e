package commands

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/storytest/ai/anthropic"
	"github.com/teranos/storytest/ai/tracker"
	"github.com/teranos/storytest/am"
	"github.com/teranos/storytest/casestore"
	"github.com/teranos/storytest/db"
	"github.com/teranos/storytest/diag"
	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/generator"
	"github.com/teranos/storytest/history"
	"github.com/teranos/storytest/internal/httpclient"
	"github.com/teranos/storytest/jira"
	"github.com/teranos/storytest/knowledge"
	"github.com/teranos/storytest/logger"
	"github.com/teranos/storytest/version"
	"github.com/teranos/storytest/xray"
)

// WritesRunLog reports whether cmd keeps a log file under the output directory
func WritesRunLog(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "generate", "import":
		return true
	}
	return false
}

// PrintError prints err with any hints and details attached to it
func PrintError(err error) {
	pterm.Error.Println(err.Error())
	if details := errors.FlattenDetails(err); details != "" {
		fmt.Fprintln(os.Stderr, details)
	}
	if hints := errors.FlattenHints(err); hints != "" {
		pterm.Info.Println(hints)
	}
}

// loadConfig loads and validates configuration, then checks credentials
// for the named services
func loadConfig(services ...am.Service) (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := cfg.Require(services...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newHTTP(cfg *am.Config, timeoutSeconds int) *httpclient.Client {
	userAgent := cfg.Network.UserAgent
	if userAgent == "" {
		userAgent = "storytest/" + version.Get().Short()
	}
	return httpclient.New(httpclient.Options{
		Timeout:        time.Duration(timeoutSeconds) * time.Second,
		BlockPrivateIP: cfg.Network.BlockPrivateIPs,
		UserAgent:      userAgent,
	})
}

// openDatabase opens the history database with migrations applied
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	conn, err := db.OpenWithMigrations(path, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	return conn, nil
}

func newSink(cfg *am.Config) diag.Sink {
	if !cfg.Generator.SaveDiagnostics {
		return diag.Nop{}
	}
	return diag.NewFileSink(filepath.Join(cfg.Generator.OutputDir, "logs"), logger.ComponentLogger("diag"))
}

func newJira(cfg *am.Config) *jira.Client {
	return jira.NewClient(jira.Config{
		APIBase:           cfg.JiraAPIBase(),
		AuthToken:         cfg.Jira.AuthToken,
		TestProjectKey:    cfg.TestProjectKey(),
		LinkType:          cfg.Jira.LinkType,
		RequestsPerSecond: cfg.Jira.RequestsPerSecond,
		HTTP:              newHTTP(cfg, cfg.Jira.TimeoutSeconds),
		Logger:            logger.ComponentLogger("jira"),
	})
}

func newXray(cfg *am.Config, sink diag.Sink) *xray.Client {
	return xray.NewClient(xray.Config{
		BaseURL:      cfg.Xray.BaseURL,
		ClientID:     cfg.Xray.ClientID,
		ClientSecret: cfg.Xray.ClientSecret,
		HTTP:         newHTTP(cfg, cfg.Xray.TimeoutSeconds),
		Sink:         sink,
		Logger:       logger.ComponentLogger("xray"),
	})
}

func newSubmitter(cfg *am.Config, client *xray.Client, linker xray.Linker) *xray.Submitter {
	return xray.NewSubmitter(xray.SubmitterConfig{
		Opener:     client,
		Tracker:    xray.NewTracker(client, logger.ComponentLogger("xray.tracker")),
		Reconciler: xray.NewReconciler(linker, logger.ComponentLogger("xray.links")),
		ProjectKey: cfg.TestProjectKey(),
		TestType:   cfg.Xray.TestType,
		Logger:     logger.ComponentLogger("xray.submit"),
	})
}

func submitOptions(cfg *am.Config, wait bool) xray.SubmitOptions {
	return xray.SubmitOptions{
		WaitForCompletion: wait,
		MaxAttempts:       cfg.Xray.PollMaxAttempts,
		Interval:          cfg.PollInterval(),
	}
}

// pipeline bundles a generator with the database it records into
type pipeline struct {
	generator *generator.Generator
	db        *sql.DB
}

func (p *pipeline) Close() {
	if p.db != nil {
		p.db.Close()
	}
}

// newPipeline wires every collaborator of a generation run. The database
// is optional: without it runs and model usage go unrecorded.
func newPipeline(cfg *am.Config, wait bool) *pipeline {
	p := &pipeline{}
	sink := newSink(cfg)
	jiraClient := newJira(cfg)
	xrayClient := newXray(cfg, sink)

	var recorder generator.RunRecorder
	var usage anthropic.UsageRecorder
	if conn, err := openDatabase(cfg); err != nil {
		logger.Logger.Warnw("Run history disabled", logger.FieldError, err)
	} else {
		p.db = conn
		recorder = history.NewStore(conn)
		usage = tracker.NewUsageTracker(conn)
	}

	model := anthropic.NewClient(anthropic.Config{
		APIKey:      cfg.Anthropic.APIKey,
		BaseURL:     cfg.Anthropic.BaseURL,
		Model:       cfg.Anthropic.Model,
		Temperature: cfg.Anthropic.Temperature,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		MaxRetries:  cfg.Anthropic.MaxRetries,
		HTTP:        newHTTP(cfg, cfg.Anthropic.TimeoutSeconds),
		Usage:       usage,
		Logger:      logger.ComponentLogger("anthropic"),
	})

	var enhancer generator.Enhancer
	if cfg.KnowledgeBase.Enabled && strings.TrimSpace(cfg.KnowledgeBase.Path) != "" {
		enhancer = knowledge.NewEnhancer(cfg.KnowledgeBase.Path,
			cfg.KnowledgeBase.SimilarityThreshold, cfg.KnowledgeBase.MaxDocuments,
			logger.ComponentLogger("knowledge"))
	}

	config := generator.Config{
		Stories:        jiraClient,
		Model:          model,
		Enhancer:       enhancer,
		Store:          casestore.New(cfg.Generator.OutputDir),
		Submitter:      newSubmitter(cfg, xrayClient, jiraClient),
		Issues:         jiraClient,
		Sink:           sink,
		Logger:         logger.ComponentLogger("generator"),
		PromptTemplate: cfg.Generator.PromptTemplate,
		UseBulkImport:  cfg.Xray.UseBulkImport,
		Submit:         submitOptions(cfg, wait),
		History:        recorder,
	}
	p.generator = generator.New(config)
	return p
}
