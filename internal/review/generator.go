package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"prlens-backend/internal/github"
	"prlens-backend/internal/provider"
	"prlens-backend/internal/types"
)

var (
	ErrEmptyResponse     = errors.New("no response from AI")
	ErrMalformedResponse = errors.New("AI response is not valid JSON")
	ErrSchemaViolation   = errors.New("AI response does not match the review schema")
)

// NoChangesSummary is the summary for a pull request with no textual diff.
const NoChangesSummary = "No code changes to review (binary files or empty diff)."

const schemaURL = "review_result.schema.json"

// Providers is the slice of the provider registry the generator needs.
type Providers interface {
	Resolve(providerID string) (provider.Provider, error)
	Client(p provider.Provider) provider.Completer
}

// Generator turns a pull request diff into a validated ReviewResult.
type Generator struct {
	providers Providers
	prompt    *PromptSpec
	schema    *jsonschema.Schema
	log       *zap.Logger
}

// NewGenerator loads the bundled prompt and result schema.
func NewGenerator(providers Providers, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	spec, err := LoadPromptSpec()
	if err != nil {
		return nil, err
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Generator{providers: providers, prompt: spec, schema: schema, log: logger}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	b, err := promptsFS.ReadFile("prompts/review_result.schema.json")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// RenderDiff formats files that carry a patch as titled diff blocks
// separated by blank lines. Files without a patch are skipped.
func RenderDiff(files []github.PullRequestFile) string {
	blocks := make([]string, 0, len(files))
	for _, f := range files {
		if f.Patch == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("### %s (%s)\n```diff\n%s\n```", f.Filename, f.Status, f.Patch))
	}
	return strings.Join(blocks, "\n\n")
}

// Generate reviews the files of a pull request with the selected provider,
// or the default one when providerID is empty.
func (g *Generator) Generate(ctx context.Context, prTitle string, files []github.PullRequestFile, providerID string) (*types.ReviewResult, error) {
	p, err := g.providers.Resolve(providerID)
	if err != nil {
		return nil, err
	}

	diff := RenderDiff(files)
	if diff == "" {
		return &types.ReviewResult{
			Summary:   NoChangesSummary,
			RiskScore: 0,
			Comments:  []types.ReviewComment{},
			AIModel:   p.Name,
		}, nil
	}

	g.log.Debug("requesting review",
		zap.String("provider", p.ID),
		zap.String("model", p.Model),
		zap.Int("files", len(files)),
		zap.Int("diff_bytes", len(diff)),
	)

	content, err := g.providers.Client(p).Complete(ctx, provider.CompletionRequest{
		System:      g.prompt.System,
		User:        g.prompt.UserPrompt(prTitle, diff),
		Temperature: g.prompt.Style.Temperature,
		MaxTokens:   g.prompt.Style.MaxTokens,
		JSON:        g.prompt.Style.JSON,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}

	result, err := g.parse(content)
	if err != nil {
		return nil, err
	}
	result.AIModel = p.Name
	return result, nil
}

type rawComment struct {
	File       string  `json:"file"`
	Line       float64 `json:"line"`
	Severity   string  `json:"severity"`
	Category   string  `json:"category"`
	Message    string  `json:"message"`
	Suggestion string  `json:"suggestion"`
}

type rawResult struct {
	Summary   string       `json:"summary"`
	RiskScore float64      `json:"riskScore"`
	Comments  []rawComment `json:"comments"`
}

// parse validates content against the result schema as a whole; nothing is
// accepted from a response that fails validation.
func (g *Generator) parse(content string) (*types.ReviewResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := g.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	result := &types.ReviewResult{
		Summary:   raw.Summary,
		RiskScore: int(math.Round(raw.RiskScore)),
		Comments:  make([]types.ReviewComment, 0, len(raw.Comments)),
	}
	for _, c := range raw.Comments {
		result.Comments = append(result.Comments, types.ReviewComment{
			File:       c.File,
			Line:       int(c.Line),
			Severity:   types.Severity(c.Severity),
			Category:   types.Category(c.Category),
			Message:    c.Message,
			Suggestion: c.Suggestion,
		})
	}
	return result, nil
}
