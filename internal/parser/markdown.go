package parser

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/overseer/internal/models"
)

// MarkdownParser extracts tasks from "## Task N: Title" sections. The lines
// between a task heading and the next heading form the task body: leading
// "Key: value" metadata lines configure the task, everything after becomes
// the description.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{markdown: goldmark.New()}
}

var taskHeadingRegex = regexp.MustCompile(`^Task\s+(\d+):\s+(.+)$`)

func (p *MarkdownParser) Parse(r io.Reader) (*models.Plan, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	lines := strings.Split(string(content), "\n")

	plan := &models.Plan{}

	// Walk the AST for structure, then slice the raw lines for each task
	// section. Goldmark gives reliable heading levels and keeps fenced
	// code blocks from being misread as headings.
	type section struct {
		number    int
		title     string
		startLine int
	}
	var sections []section

	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		headingText := extractText(heading, content)
		if heading.Level == 1 && plan.Name == "" {
			plan.Name = headingText
			return ast.WalkSkipChildren, nil
		}
		if heading.Level != 2 {
			return ast.WalkSkipChildren, nil
		}

		m := taskHeadingRegex.FindStringSubmatch(headingText)
		if m == nil {
			return ast.WalkSkipChildren, nil
		}
		number, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return ast.WalkStop, fmt.Errorf("invalid task number in heading %q", headingText)
		}
		sections = append(sections, section{
			number:    number,
			title:     strings.TrimSpace(m[2]),
			startLine: headingLine(heading, content),
		})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}

	for i, sec := range sections {
		end := len(lines)
		if i+1 < len(sections) {
			end = sections[i+1].startLine
		}
		body := lines[sec.startLine+1 : end]

		task := models.PlanTask{
			Number:   sec.number,
			Title:    sec.title,
			Priority: models.PriorityNormal,
		}
		if err := parseTaskBody(&task, body); err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", sec.number, sec.title, err)
		}
		plan.Tasks = append(plan.Tasks, task)
	}

	return plan, nil
}

// headingLine maps a heading node back to its zero-based source line.
func headingLine(heading *ast.Heading, source []byte) int {
	segments := heading.Lines()
	if segments.Len() == 0 {
		return 0
	}
	start := segments.At(0).Start
	line := 0
	for i := 0; i < start && i < len(source); i++ {
		if source[i] == '\n' {
			line++
		}
	}
	return line
}

// extractText collects the plain text of a node's children.
func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		} else {
			sb.WriteString(extractText(child, source))
		}
	}
	return strings.TrimSpace(sb.String())
}

var metadataRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*):\s*(.*)$`)

// parseTaskBody consumes leading metadata lines, then treats the remainder
// as the description. Metadata keys inside fenced code blocks are ignored.
func parseTaskBody(task *models.PlanTask, body []string) error {
	descStart := 0
	inMetadata := true
	for i, line := range body {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !inMetadata {
			break
		}

		m := metadataRegex.FindStringSubmatch(trimmed)
		if m == nil {
			inMetadata = false
			descStart = i
			break
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		value := strings.TrimSpace(m[2])
		known, err := applyMetadata(task, key, value)
		if err != nil {
			return err
		}
		if !known {
			// Not a recognized key: the description starts here.
			inMetadata = false
			descStart = i
			break
		}
		descStart = i + 1
	}

	if inMetadata {
		// Body was metadata only (or empty).
		descStart = len(body)
	}
	task.Description = strings.TrimSpace(strings.Join(body[descStart:], "\n"))
	return nil
}

// applyMetadata sets one metadata key. Returns false for unknown keys so
// ordinary prose starting with "Word:" falls through to the description.
func applyMetadata(task *models.PlanTask, key, value string) (bool, error) {
	switch key {
	case "agent":
		task.Agent = value
	case "handler":
		task.Handler = value
	case "priority":
		p, err := models.ParsePriority(value)
		if err != nil {
			return true, err
		}
		task.Priority = p
	case "depends", "depends on":
		deps, err := parseDependencyList(value)
		if err != nil {
			return true, err
		}
		task.DependsOn = deps
	case "require success", "requires success":
		task.RequireSuccess = strings.EqualFold(value, "true") || strings.EqualFold(value, "yes")
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return true, fmt.Errorf("invalid timeout %q: %w", value, err)
		}
		task.Timeout = d
	case "retries", "max retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, fmt.Errorf("invalid retries %q: %w", value, err)
		}
		task.MaxRetries = &n
	case "tags":
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				task.Tags = append(task.Tags, tag)
			}
		}
	default:
		return false, nil
	}
	return true, nil
}

// parseDependencyList parses "1, 2, 3" into task numbers.
func parseDependencyList(value string) ([]int, error) {
	if value == "" || strings.EqualFold(value, "none") {
		return nil, nil
	}
	var deps []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency %q: %w", part, err)
		}
		deps = append(deps, n)
	}
	return deps, nil
}
