// Package prompt assembles the execution context handed to the agent process
// as its sole argument.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/driftcode/dispatch/internal/task"
)

//go:embed templates/task.md
var defaultTaskTmpl string

// maxContextChars bounds the planning-context excerpt embedded in a prompt.
const maxContextChars = 4000

// BuildOpts carries everything the template can reference.
type BuildOpts struct {
	Task            task.Task
	Attempt         int
	PlanningContext string
	// SkillDocs maps a skill tag to its reference document. Only docs for
	// the task's required skills are embedded.
	SkillDocs map[string]string
	// OverrideDir, when set, is checked for a task.md that replaces the
	// embedded default template.
	OverrideDir string
}

// Build renders the prompt for one task attempt.
func Build(opts BuildOpts) (string, error) {
	src := defaultTaskTmpl
	if opts.OverrideDir != "" {
		overridePath := filepath.Join(opts.OverrideDir, "task.md")
		if data, err := os.ReadFile(overridePath); err == nil {
			src = string(data)
		}
	}

	tmpl, err := template.New("task").Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}

	vars := map[string]any{
		"task_id":          opts.Task.ID,
		"task_title":       opts.Task.Title,
		"priority":         opts.Task.Priority,
		"attempt":          opts.Attempt,
		"skills":           strings.Join(opts.Task.Skills, ", "),
		"planning_context": Excerpt(opts.PlanningContext, maxContextChars),
		"skill_docs":       renderSkillDocs(opts.Task.Skills, opts.SkillDocs),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// Excerpt truncates s to at most n characters, marking the cut.
func Excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[...truncated]"
}

// renderSkillDocs concatenates the reference documents for the task's
// required skills in a stable order.
func renderSkillDocs(skills []string, docs map[string]string) string {
	if len(docs) == 0 {
		return ""
	}
	selected := make([]string, 0, len(skills))
	for _, s := range skills {
		if doc, ok := docs[s]; ok && doc != "" {
			selected = append(selected, fmt.Sprintf("### %s\n\n%s", s, doc))
		}
	}
	sort.Strings(selected)
	return strings.Join(selected, "\n\n")
}
