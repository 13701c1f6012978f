package review

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts
var promptsFS embed.FS

// PromptSpec is the review prompt loaded from prompts/review.yaml.
type PromptSpec struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
	Style  struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		JSON        bool    `yaml:"json"`
	} `yaml:"style"`
}

// LoadPromptSpec parses the bundled review prompt.
func LoadPromptSpec() (*PromptSpec, error) {
	b, err := promptsFS.ReadFile("prompts/review.yaml")
	if err != nil {
		return nil, err
	}
	return ParsePromptSpec(b)
}

// ParsePromptSpec parses a prompt spec and fills defaults for missing style
// values.
func ParsePromptSpec(b []byte) (*PromptSpec, error) {
	var spec PromptSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("parse prompt spec: %w", err)
	}
	if strings.TrimSpace(spec.System) == "" {
		return nil, fmt.Errorf("parse prompt spec: system prompt is empty")
	}
	if spec.User == "" {
		spec.User = "Review this pull request:\n\n**Title:** {{title}}\n\n**Changes:**\n{{diff}}"
	}
	if spec.Style.Temperature <= 0 {
		spec.Style.Temperature = 0.3
	}
	if spec.Style.MaxTokens <= 0 {
		spec.Style.MaxTokens = 2000
	}
	return &spec, nil
}

// UserPrompt renders the user message for a PR title and diff section.
func (s *PromptSpec) UserPrompt(title, diff string) string {
	return strings.NewReplacer("{{title}}", title, "{{diff}}", diff).Replace(s.User)
}
