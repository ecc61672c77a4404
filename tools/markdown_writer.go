package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// MarkdownWriterName is the registered name of the markdown writer.
const MarkdownWriterName = "markdown_writer"

const markdownWriterSchema = `{
  "type": "object",
  "properties": {
    "content": {"type": "string", "description": "Markdown content to write"},
    "file_path": {"type": "string", "minLength": 1, "description": "Path of the file, relative to the output directory"},
    "metadata": {"type": "object", "description": "Optional YAML front matter"},
    "append": {"type": "boolean", "description": "Append an update section instead of overwriting"}
  },
  "required": ["content", "file_path"]
}`

// MarkdownWriter creates or appends to markdown files under the output
// directory.
type MarkdownWriter struct {
	deps Deps
}

// NewMarkdownWriter creates the tool. deps.OutputDir is required.
func NewMarkdownWriter(deps Deps) (agent.Tool, error) {
	if deps.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	return &MarkdownWriter{deps: deps}, nil
}

func (t *MarkdownWriter) Name() string { return MarkdownWriterName }

func (t *MarkdownWriter) Description() string {
	return "Create or update a markdown file to document tasks, reports or findings."
}

func (t *MarkdownWriter) Schema() json.RawMessage { return json.RawMessage(markdownWriterSchema) }

func (t *MarkdownWriter) Run(_ context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[struct {
		Content  string         `json:"content"`
		FilePath string         `json:"file_path"`
		Metadata map[string]any `json:"metadata"`
		Append   bool           `json:"append"`
	}](MarkdownWriterName, input)
	if err != nil {
		return "", err
	}

	path, err := security.ConfinePath(in.FilePath, t.deps.OutputDir)
	if err != nil {
		return "", agent.NewToolError(MarkdownWriterName, err, "invalid file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", agent.NewToolError(MarkdownWriterName, err, "create directory")
	}

	var b strings.Builder
	if in.Append {
		fmt.Fprintf(&b, "\n\n## Update: %s\n\n", t.deps.now().Format("2006-01-02 15:04:05"))
	}
	if len(in.Metadata) > 0 {
		front, err := yaml.Marshal(in.Metadata)
		if err != nil {
			return "", agent.NewToolError(MarkdownWriterName, err, "encode metadata")
		}
		b.WriteString("---\n")
		b.Write(front)
		b.WriteString("---\n\n")
	}
	b.WriteString(in.Content)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	verb := "created"
	if in.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		verb = "appended to"
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return "", agent.NewToolError(MarkdownWriterName, err, "open file")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(b.String()); err != nil {
		return "", agent.NewToolError(MarkdownWriterName, err, "write file")
	}
	return fmt.Sprintf("Successfully %s markdown file at %s", verb, path), nil
}
