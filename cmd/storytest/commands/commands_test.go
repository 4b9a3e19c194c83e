package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/am"
	"github.com/teranos/storytest/generator"
)

func TestWritesRunLog(t *testing.T) {
	assert.True(t, WritesRunLog(GenerateCmd))
	assert.True(t, WritesRunLog(ImportCmd))
	assert.False(t, WritesRunLog(jobStatusCmd))
	assert.False(t, WritesRunLog(&cobra.Command{Use: "history"}))
}

func TestMarshalConfig_MasksCredentials(t *testing.T) {
	cfg, err := am.LoadFromDefaults()
	require.NoError(t, err)
	cfg.Anthropic.APIKey = "sk-ant-secret"
	cfg.Xray.ClientSecret = "xray-secret"

	for _, format := range []string{"toml", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			out, err := marshalConfig(cfg.Redacted(), format)
			require.NoError(t, err)
			assert.NotContains(t, out, "sk-ant-secret")
			assert.NotContains(t, out, "xray-secret")
			assert.Contains(t, out, "********")
		})
	}

	_, err = marshalConfig(*cfg, "ini")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestPrintReport_FailedRunIsAnError(t *testing.T) {
	cfg, err := am.LoadFromDefaults()
	require.NoError(t, err)

	failed := &generator.Report{StoryKey: "PROJ-1", Message: "No test cases could be generated for this story"}
	err = printReport(cfg, failed, true)
	assert.ErrorContains(t, err, "PROJ-1")

	skipped := &generator.Report{StoryKey: "PROJ-1", Skipped: true, Message: "Saved 2 test cases"}
	assert.NoError(t, printReport(cfg, skipped, true))
}
