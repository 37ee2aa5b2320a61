package parser

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/overseer/internal/models"
)

// YAMLParser parses machine-authored plans.
type YAMLParser struct{}

func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

type yamlTask struct {
	Number         int      `yaml:"number"`
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Agent          string   `yaml:"agent"`
	Handler        string   `yaml:"handler"`
	Priority       string   `yaml:"priority"`
	DependsOn      []int    `yaml:"depends_on"`
	RequireSuccess bool     `yaml:"require_success"`
	Timeout        string   `yaml:"timeout"`
	MaxRetries     *int     `yaml:"max_retries"`
	Tags           []string `yaml:"tags"`
}

type yamlPlan struct {
	Name  string     `yaml:"name"`
	Tasks []yamlTask `yaml:"tasks"`
}

func (p *YAMLParser) Parse(r io.Reader) (*models.Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var raw yamlPlan
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	plan := &models.Plan{Name: raw.Name}
	for i, rt := range raw.Tasks {
		task := models.PlanTask{
			Number:         rt.Number,
			Title:          rt.Title,
			Description:    rt.Description,
			Agent:          rt.Agent,
			Handler:        rt.Handler,
			Priority:       models.PriorityNormal,
			DependsOn:      rt.DependsOn,
			RequireSuccess: rt.RequireSuccess,
			MaxRetries:     rt.MaxRetries,
			Tags:           rt.Tags,
		}
		// Missing numbers default to position order.
		if task.Number == 0 {
			task.Number = i + 1
		}
		if rt.Priority != "" {
			priority, err := models.ParsePriority(rt.Priority)
			if err != nil {
				return nil, fmt.Errorf("task %d: %w", task.Number, err)
			}
			task.Priority = priority
		}
		if rt.Timeout != "" {
			timeout, err := time.ParseDuration(rt.Timeout)
			if err != nil {
				return nil, fmt.Errorf("task %d: invalid timeout %q: %w", task.Number, rt.Timeout, err)
			}
			task.Timeout = timeout
		}
		plan.Tasks = append(plan.Tasks, task)
	}
	return plan, nil
}
