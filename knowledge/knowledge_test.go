package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/errors"
)

const paymentsJSON = `{
  "domain": "Payments",
  "description": "Card checkout and refunds",
  "guidelines": "Always cover declined cards.",
  "keywords": ["checkout", "card", "refund"],
  "sample_tests": [
    {"summary": "Pay with a valid card", "description": "d", "steps": [{"action": "a", "data": "d", "result": "r"}]},
    {"summary": "Declined card", "description": "d", "steps": [{"action": "a", "data": "d", "result": "r"}]},
    {"summary": "Refund a payment", "description": "d", "steps": [{"action": "a", "data": "d", "result": "r"}]},
    {"summary": "Partial refund", "description": "d", "steps": [{"action": "a", "data": "d", "result": "r"}]}
  ]
}`

const accountsYAML = `domain: Accounts
description: Login and profile management
keywords: [login, password, profile]
sample_tests:
  - summary: Login with valid credentials
    description: d
    steps:
      - {action: a, data: d, result: r}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("As a user, I want to PAY with my card; the card is saved. Checkout-flow!")
	assert.Equal(t, []string{"user", "want", "pay", "card", "saved", "checkout", "flow"}, got)
}

func TestExtractKeywords_Empty(t *testing.T) {
	assert.Empty(t, ExtractKeywords("a an the it is"))
}

func TestLoadFile_JSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	doc, err := LoadFile(writeFile(t, dir, "payments.json", paymentsJSON))
	require.NoError(t, err)
	assert.Equal(t, "Payments", doc.Domain)
	assert.Len(t, doc.SampleTests, 4)

	doc, err = LoadFile(writeFile(t, dir, "accounts.yaml", accountsYAML))
	require.NoError(t, err)
	assert.Equal(t, "Accounts", doc.Domain)
	assert.Equal(t, []string{"login", "password", "profile"}, doc.Keywords)
	assert.Equal(t, "Login with valid credentials", doc.SampleTests[0].Summary)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFile(writeFile(t, dir, "broken.json", `{"domain":`))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, dir, "list.json", `[1, 2]`))
	assert.ErrorContains(t, err, "top level must be an object")
}

func TestRelevance(t *testing.T) {
	doc, err := LoadFile(writeFile(t, t.TempDir(), "payments.json", paymentsJSON))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, doc.Relevance([]string{"checkout", "refund"}), 1e-9)
	assert.InDelta(t, 0.5, doc.Relevance([]string{"checkout", "spaceship"}), 1e-9)
	assert.Zero(t, doc.Relevance(nil))
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yml", accountsYAML)
	writeFile(t, dir, "a.json", paymentsJSON)
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.yml")}, files)

	_, err = ListFiles(filepath.Join(dir, "missing"))
	assert.True(t, errors.IsNotFound(err))
}

func TestEnhance_AppendsRelevantDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payments.json", paymentsJSON)
	writeFile(t, dir, "accounts.yaml", accountsYAML)
	writeFile(t, dir, "broken.json", `{`)

	e := NewEnhancer(dir, DefaultThreshold, DefaultMaxDocuments, nil)
	out := e.Enhance("PROMPT", "Card checkout", "Refund card")

	assert.True(t, strings.HasPrefix(out, "PROMPT\n\nKNOWLEDGE BASE CONTEXT:\n"))
	assert.Contains(t, out, "## Domain: Payments\n")
	assert.Contains(t, out, "Guidelines: Always cover declined cards.\n")
	assert.Contains(t, out, "- Pay with a valid card\n- Declined card\n- Refund a payment\n")
	assert.NotContains(t, out, "Partial refund")
	assert.NotContains(t, out, "Accounts")
	assert.True(t, strings.HasSuffix(out, contextFooter))
}

func TestEnhance_NothingRelevant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payments.json", paymentsJSON)

	e := NewEnhancer(dir, DefaultThreshold, DefaultMaxDocuments, nil)
	assert.Equal(t, "PROMPT", e.Enhance("PROMPT", "Spaceship launch", "Orbital insertion"))
}

func TestEnhance_MissingDirectory(t *testing.T) {
	e := NewEnhancer(filepath.Join(t.TempDir(), "none"), DefaultThreshold, DefaultMaxDocuments, nil)
	assert.Equal(t, "PROMPT", e.Enhance("PROMPT", "Card checkout", ""))
}

func TestRank_OrderAndCap(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payments.json", paymentsJSON)
	writeFile(t, dir, "accounts.yaml", accountsYAML)

	e := NewEnhancer(dir, 0.1, 1, nil)
	matches, err := e.Rank("Checkout with card", "login first")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Payments", matches[0].Document.Domain)
}

func TestRenderContext_Defaults(t *testing.T) {
	out := RenderContext([]Match{{Document: &Document{SampleTests: []SampleTest{{}}}}})
	assert.Contains(t, out, "## Domain: General\n")
	assert.Contains(t, out, "- Test case 1\n")
	assert.NotContains(t, out, "Guidelines:")
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payments.json", paymentsJSON)
	writeFile(t, dir, "accounts.yaml", accountsYAML)
	writeFile(t, dir, "empty.json", `{"domain": "X", "description": "", "keywords": [], "sample_tests": [{"summary": "s", "description": "d", "steps": [{"action": "a"}]}]}`)
	writeFile(t, dir, "missing.yml", "domain: Y\n")
	writeFile(t, dir, "broken.json", `{"domain"`)

	report, err := ValidateDir(dir)
	require.NoError(t, err)
	require.Len(t, report.Files, 5)
	assert.Equal(t, 2, report.ValidCount())

	byName := map[string]FileReport{}
	for _, f := range report.Files {
		byName[filepath.Base(f.Path)] = f
	}
	assert.True(t, byName["payments.json"].Valid)
	assert.True(t, byName["accounts.yaml"].Valid)
	for _, name := range []string{"empty.json", "missing.yml", "broken.json"} {
		assert.False(t, byName[name].Valid, name)
		assert.NotEmpty(t, byName[name].Problems, name)
	}
}

func TestValidateDir_Missing(t *testing.T) {
	_, err := ValidateDir(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.IsNotFound(err))
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []string, 4)
	w := NewWatcher(dir, 20*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(paths []string) { changes <- paths }) }()

	// Give the watcher time to register the directory
	target := filepath.Join(dir, "payments.json")
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(target, []byte(paymentsJSON), 0o644))
		select {
		case paths := <-changes:
			assert.Equal(t, []string{target}, paths)
			cancel()
			require.NoError(t, <-done)
			return
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}
