package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/overseer/internal/models"
)

func parseMarkdown(t *testing.T, content string) *models.Plan {
	t.Helper()
	plan, err := NewMarkdownParser().Parse(strings.NewReader(content))
	require.NoError(t, err)
	return plan
}

func TestMarkdownBasicTasks(t *testing.T) {
	plan := parseMarkdown(t, `# My plan

## Task 1: First thing

Do the first thing.

## Task 2: Second thing

Do the second thing.
`)

	assert.Equal(t, "My plan", plan.Name)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, 1, plan.Tasks[0].Number)
	assert.Equal(t, "First thing", plan.Tasks[0].Title)
	assert.Equal(t, "Do the first thing.", plan.Tasks[0].Description)
	assert.Equal(t, models.PriorityNormal, plan.Tasks[0].Priority)
}

func TestMarkdownMetadata(t *testing.T) {
	plan := parseMarkdown(t, `## Task 3: Full metadata

Agent: reviewer
Handler: agent
Priority: critical
Depends: 1, 2
Require Success: true
Timeout: 90s
Retries: 5
Tags: backend, urgent

The actual work description.
Spanning two lines.
`)

	require.Len(t, plan.Tasks, 1)
	task := plan.Tasks[0]
	assert.Equal(t, "reviewer", task.Agent)
	assert.Equal(t, "agent", task.Handler)
	assert.Equal(t, models.PriorityCritical, task.Priority)
	assert.Equal(t, []int{1, 2}, task.DependsOn)
	assert.True(t, task.RequireSuccess)
	assert.Equal(t, 90*time.Second, task.Timeout)
	require.NotNil(t, task.MaxRetries)
	assert.Equal(t, 5, *task.MaxRetries)
	assert.Equal(t, []string{"backend", "urgent"}, task.Tags)
	assert.Equal(t, "The actual work description.\nSpanning two lines.", task.Description)
}

func TestMarkdownProseWithColonIsDescription(t *testing.T) {
	plan := parseMarkdown(t, `## Task 1: Careful

Note: this line is prose, not metadata.
More prose.
`)

	require.Len(t, plan.Tasks, 1)
	assert.Contains(t, plan.Tasks[0].Description, "Note: this line is prose")
	assert.Contains(t, plan.Tasks[0].Description, "More prose.")
}

func TestMarkdownIgnoresNonTaskHeadings(t *testing.T) {
	plan := parseMarkdown(t, `# Plan

## Background

Context that is not a task.

## Task 1: Real work

Do it.

### Subsection of the task

Still task body, not a new task.
`)

	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "Real work", plan.Tasks[0].Title)
	assert.Contains(t, plan.Tasks[0].Description, "Subsection of the task")
}

func TestMarkdownCodeBlockNotMistakenForHeading(t *testing.T) {
	plan := parseMarkdown(t, `## Task 1: With code

Run this:

`+"```"+`
## Task 99: not a task
`+"```"+`

## Task 2: After the code

Follow-up.
`)

	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, 1, plan.Tasks[0].Number)
	assert.Equal(t, 2, plan.Tasks[1].Number)
	assert.Contains(t, plan.Tasks[0].Description, "Task 99")
}

func TestMarkdownInvalidMetadataValue(t *testing.T) {
	_, err := NewMarkdownParser().Parse(strings.NewReader(`## Task 1: Broken

Timeout: not-a-duration
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestMarkdownEmptyDocument(t *testing.T) {
	plan := parseMarkdown(t, "# Just a title\n\nNo tasks here.\n")
	assert.Empty(t, plan.Tasks)
}
