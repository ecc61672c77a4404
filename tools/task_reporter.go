package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// TaskReporterName is the registered name of the task reporter.
const TaskReporterName = "task_reporter"

const taskReporterSchema = `{
  "type": "object",
  "properties": {
    "task_name": {"type": "string", "minLength": 1},
    "task_description": {"type": "string"},
    "findings": {"type": "array", "items": {"type": "string"}},
    "actions_taken": {"type": "array", "items": {"type": "string"}},
    "recommendations": {"type": "array", "items": {"type": "string"}},
    "additional_info": {"type": "object"},
    "output_dir": {"type": "string", "description": "Sub-directory for the report (default: reports)"}
  },
  "required": ["task_name", "task_description", "findings", "actions_taken"]
}`

// TaskReporter writes a structured markdown report of a finished task.
type TaskReporter struct {
	deps Deps
}

// NewTaskReporter creates the tool. deps.OutputDir is required.
func NewTaskReporter(deps Deps) (agent.Tool, error) {
	if deps.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	return &TaskReporter{deps: deps}, nil
}

func (t *TaskReporter) Name() string { return TaskReporterName }

func (t *TaskReporter) Description() string {
	return "Generate a markdown report documenting a task, the actions taken and the findings."
}

func (t *TaskReporter) Schema() json.RawMessage { return json.RawMessage(taskReporterSchema) }

type taskReport struct {
	TaskName        string         `json:"task_name"`
	TaskDescription string         `json:"task_description"`
	Findings        []string       `json:"findings"`
	ActionsTaken    []string       `json:"actions_taken"`
	Recommendations []string       `json:"recommendations"`
	AdditionalInfo  map[string]any `json:"additional_info"`
	OutputDir       string         `json:"output_dir"`
}

func (t *TaskReporter) Run(_ context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[taskReport](TaskReporterName, input)
	if err != nil {
		return "", err
	}
	if in.OutputDir == "" {
		in.OutputDir = "reports"
	}

	dir, err := security.ConfinePath(in.OutputDir, t.deps.OutputDir)
	if err != nil {
		return "", agent.NewToolError(TaskReporterName, err, "invalid output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", agent.NewToolError(TaskReporterName, err, "create directory")
	}

	now := t.deps.now()
	name := fmt.Sprintf("%s_%s.md", security.SafeFileName(in.TaskName), now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(in.render(now.Format("2006-01-02 15:04:05"))), 0o644); err != nil {
		return "", agent.NewToolError(TaskReporterName, err, "write report")
	}
	return fmt.Sprintf("Task report generated successfully at %s", path), nil
}

func (r taskReport) render(generated string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\nGenerated: %s\n\n", r.TaskName, generated)
	fmt.Fprintf(&b, "## Task Description\n%s\n\n", r.TaskDescription)

	b.WriteString("## Actions Taken\n")
	writeList(&b, r.ActionsTaken)
	b.WriteString("\n## Key Findings\n")
	writeList(&b, r.Findings)

	if len(r.Recommendations) > 0 {
		b.WriteString("\n## Recommendations\n")
		writeList(&b, r.Recommendations)
	}

	if len(r.AdditionalInfo) > 0 {
		b.WriteString("\n## Additional Information\n")
		keys := make([]string, 0, len(r.AdditionalInfo))
		for k := range r.AdditionalInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n### %s\n%v\n", k, r.AdditionalInfo[k])
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
