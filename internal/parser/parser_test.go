package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		filename string
		want     Format
	}{
		{"plan.md", FormatMarkdown},
		{"plan.markdown", FormatMarkdown},
		{"PLAN.MD", FormatMarkdown},
		{"plan.yaml", FormatYAML},
		{"plan.yml", FormatYAML},
		{"plan.txt", FormatUnknown},
		{"plan", FormatUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectFormat(tc.filename), tc.filename)
	}
}

func TestNewParserUnknownFormat(t *testing.T) {
	_, err := NewParser(FormatUnknown)
	assert.Error(t, err)
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "markdown", FormatMarkdown.String())
	assert.Equal(t, "yaml", FormatYAML.String())
	assert.Equal(t, "unknown", FormatUnknown.String())
}

func TestParseFileMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.md")
	require.NoError(t, os.WriteFile(path, []byte(`# Release plan

## Task 1: Build

Compile everything.

## Task 2: Deploy

Depends: 1

Ship it.
`), 0o644))

	plan, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Release plan", plan.Name)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, []int{1}, plan.Tasks[1].DependsOn)
	assert.True(t, filepath.IsAbs(plan.FilePath))
}

func TestParseFileRejectsInvalidPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cyclic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - number: 1
    title: a
    depends_on: [2]
  - number: 2
    title: b
    depends_on: [1]
`), 0o644))

	_, err := ParseFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestParseFileUnknownExtension(t *testing.T) {
	_, err := ParseFile("plan.txt")
	assert.Error(t, err)
}
