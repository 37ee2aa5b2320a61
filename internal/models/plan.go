package models

import (
	"fmt"
	"time"
)

// PlanTask is one task as authored in a plan file. Tasks reference each
// other by plan-local number; ids are assigned at submission.
type PlanTask struct {
	Number         int           `json:"number" yaml:"number"`
	Title          string        `json:"title" yaml:"title"`
	Description    string        `json:"description" yaml:"description"`
	Agent          string        `json:"agent,omitempty" yaml:"agent,omitempty"`
	Handler        string        `json:"handler,omitempty" yaml:"handler,omitempty"`
	Priority       Priority      `json:"priority" yaml:"priority"`
	DependsOn      []int         `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	RequireSuccess bool          `json:"require_success" yaml:"require_success"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries     *int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Tags           []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Plan is a parsed plan file.
type Plan struct {
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
	FilePath string     `json:"file_path,omitempty" yaml:"-"`
	Tasks    []PlanTask `json:"tasks" yaml:"tasks"`
}

// Validate checks numbering, references, and acyclicity of the plan.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}

	numbers := make(map[int]struct{}, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.Number <= 0 {
			return fmt.Errorf("task %q has invalid number %d", task.Title, task.Number)
		}
		if _, dup := numbers[task.Number]; dup {
			return fmt.Errorf("duplicate task number %d", task.Number)
		}
		numbers[task.Number] = struct{}{}
		if task.Title == "" {
			return fmt.Errorf("task %d has no title", task.Number)
		}
		if task.Priority < PriorityLow || task.Priority > PriorityCritical {
			return fmt.Errorf("task %d has invalid priority %d", task.Number, task.Priority)
		}
	}

	for _, task := range p.Tasks {
		for _, dep := range task.DependsOn {
			if dep == task.Number {
				return fmt.Errorf("task %d depends on itself", task.Number)
			}
			if _, ok := numbers[dep]; !ok {
				return fmt.Errorf("task %d depends on unknown task %d", task.Number, dep)
			}
		}
	}

	if _, err := p.ExecutionOrder(); err != nil {
		return err
	}
	return nil
}

// ExecutionOrder returns the plan's tasks in a dependency-respecting order,
// preserving authored order among independent tasks. Returns an error when
// the dependency graph has a cycle.
func (p *Plan) ExecutionOrder() ([]PlanTask, error) {
	byNumber := make(map[int]PlanTask, len(p.Tasks))
	indegree := make(map[int]int, len(p.Tasks))
	dependents := make(map[int][]int)
	for _, task := range p.Tasks {
		byNumber[task.Number] = task
		indegree[task.Number] += 0
	}
	for _, task := range p.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := byNumber[dep]; !ok {
				return nil, fmt.Errorf("task %d depends on unknown task %d", task.Number, dep)
			}
			indegree[task.Number]++
			dependents[dep] = append(dependents[dep], task.Number)
		}
	}

	// Kahn's algorithm with the ready set kept in authored order.
	var ready []int
	for _, task := range p.Tasks {
		if indegree[task.Number] == 0 {
			ready = append(ready, task.Number)
		}
	}

	ordered := make([]PlanTask, 0, len(p.Tasks))
	for len(ready) > 0 {
		num := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byNumber[num])
		for _, dependent := range dependents[num] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(p.Tasks) {
		return nil, fmt.Errorf("plan contains a dependency cycle")
	}
	return ordered, nil
}
